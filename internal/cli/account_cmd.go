package cli

import (
	"errors"
	"fmt"

	"github.com/creativable/mailsync/internal/services"
	"github.com/spf13/cobra"
)

var (
	accountUser  uint
	accountInput services.SettingsInput
	accountTLS   bool
	accountHist  bool
	accountOn    bool
)

// accountCmd represents the account command group
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "IMAP 账户配置",
}

// accountSetCmd creates or updates a user's IMAP settings; the password is prompted
var accountSetCmd = &cobra.Command{
	Use:   "set",
	Short: "创建或更新 IMAP 账户",
	Long: `创建或更新用户的 IMAP 账户。未指定的参数保持原值。
密码通过交互输入；更新已有账户时直接回车保留原密码。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(accountUser); err != nil {
			return err
		}
		in := accountInput
		flags := cmd.Flags()
		if flags.Changed("tls") {
			in.UseSSL = &accountTLS
		}
		if flags.Changed("historical") {
			in.HistoricalSync = &accountHist
		}
		if flags.Changed("enabled") {
			in.Enabled = &accountOn
		}

		password, err := readPassword(cmd, "请输入 IMAP 密码: ")
		if err != nil {
			return err
		}
		in.Password = password

		_, err = svc.Accounts.SaveSettings(accountUser, in)
		if errors.Is(err, services.ErrInvalidAccountData) {
			return errors.New("新账户需要 --host、--username 和密码")
		}
		if err != nil {
			return fmt.Errorf("保存账户失败: %w", err)
		}

		okColor.Fprintln(cmd.OutOrStdout(), "IMAP 账户已保存")
		return printAccount(cmd, accountUser)
	},
}

// accountShowCmd prints the stored settings
var accountShowCmd = &cobra.Command{
	Use:   "show",
	Short: "显示 IMAP 账户",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(accountUser); err != nil {
			return err
		}
		return printAccount(cmd, accountUser)
	},
}

// accountTestCmd probes the stored settings
var accountTestCmd = &cobra.Command{
	Use:   "test",
	Short: "测试 IMAP 连接",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(accountUser); err != nil {
			return err
		}
		settings, err := svc.Accounts.ConnectionSettings(accountUser)
		if err != nil {
			return err
		}

		result := svc.Negotiator.Probe(cmd.Context(), settings)
		out := cmd.OutOrStdout()
		if !result.Success {
			errColor.Fprintf(out, "连接失败 (尝试 %d 次): %s\n", result.Attempts, result.Message)
			return errors.New("IMAP 连接测试失败")
		}
		okColor.Fprintln(out, "连接成功")
		fmt.Fprintf(out, "  服务器: %s:%d (TLS: %v)\n", result.Host, result.Port, result.UseTLS)
		fmt.Fprintf(out, "  尝试次数: %d, 耗时: %dms\n", result.Attempts, result.LatencyMs)
		return nil
	},
}

func printAccount(cmd *cobra.Command, userID uint) error {
	account, err := svc.Accounts.GetAccount(userID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  邮箱: %s\n", account.Email)
	fmt.Fprintf(out, "  服务器: %s:%d (TLS: %v)\n", account.IMAPHost, account.IMAPPort, account.UseSSL)
	fmt.Fprintf(out, "  用户名: %s\n", account.Username)
	fmt.Fprintf(out, "  文件夹: %s\n", account.Folder)
	fmt.Fprintf(out, "  超时 (连接/问候/读写): %ds/%ds/%ds\n", account.ConnectTimeoutSec, account.GreetingTimeoutSec, account.SocketTimeoutSec)
	fmt.Fprintf(out, "  最大邮件数: %d, 历史同步: %v, 启用: %v\n", account.MaxEmails, account.HistoricalSync, account.Enabled)
	return nil
}

func init() {
	accountCmd.PersistentFlags().UintVar(&accountUser, "user", 0, "用户 ID")

	f := accountSetCmd.Flags()
	f.StringVar(&accountInput.Email, "email", "", "邮箱地址")
	f.StringVar(&accountInput.IMAPHost, "host", "", "IMAP 服务器")
	f.IntVar(&accountInput.IMAPPort, "port", 0, "IMAP 端口 (默认 993/143)")
	f.BoolVar(&accountTLS, "tls", true, "使用隐式 TLS")
	f.StringVar(&accountInput.Username, "username", "", "IMAP 用户名")
	f.StringVar(&accountInput.Folder, "folder", "", "默认同步文件夹")
	f.IntVar(&accountInput.MaxEmails, "max-emails", 0, "每次同步的最大邮件数")
	f.IntVar(&accountInput.ConnectTimeoutSec, "connect-timeout", 0, "连接超时 (秒)")
	f.IntVar(&accountInput.GreetingTimeoutSec, "greeting-timeout", 0, "问候超时 (秒)")
	f.IntVar(&accountInput.SocketTimeoutSec, "socket-timeout", 0, "读写超时 (秒)")
	f.BoolVar(&accountHist, "historical", false, "同步全部历史邮件")
	f.BoolVar(&accountOn, "enabled", true, "参与定时同步")

	accountCmd.AddCommand(accountSetCmd)
	accountCmd.AddCommand(accountShowCmd)
	accountCmd.AddCommand(accountTestCmd)
}
