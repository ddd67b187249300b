package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var keyResetYes bool

// keyCmd represents the key command group
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "API 密钥管理",
	Long:  `管理 API 密钥，包括查看当前密钥和重置密钥。`,
}

// keyShowCmd shows the current API key
var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "显示当前 API 密钥",
	RunE: func(cmd *cobra.Command, args []string) error {
		currentKey := apiKeyManager.GetCurrentKey()
		if currentKey == "" {
			return fmt.Errorf("无法获取 API 密钥")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "当前 API 密钥:")
		fmt.Fprintln(cmd.OutOrStdout(), currentKey)
		return nil
	},
}

// keyResetCmd resets the API key
var keyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "重置 API 密钥",
	Long:  `生成新的 API 密钥，旧密钥将失效。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "当前 API 密钥:")
		fmt.Fprintln(out, apiKeyManager.GetCurrentKey())

		if err := confirm(cmd, keyResetYes, "警告: 重置密钥后，所有使用旧密钥的客户端将无法访问系统。"); err != nil {
			return err
		}

		newKey, err := apiKeyManager.ResetKey()
		if err != nil {
			return fmt.Errorf("重置密钥失败: %w", err)
		}
		okColor.Fprintln(out, "API 密钥已重置成功！")
		fmt.Fprintln(out, "新的 API 密钥:")
		fmt.Fprintln(out, newKey)
		return nil
	},
}

func init() {
	keyResetCmd.Flags().BoolVarP(&keyResetYes, "yes", "y", false, "跳过确认")
	keyCmd.AddCommand(keyShowCmd)
	keyCmd.AddCommand(keyResetCmd)
}
