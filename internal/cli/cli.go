package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/creativable/mailsync/internal/api"
	"github.com/creativable/mailsync/internal/api/middleware"
	"github.com/creativable/mailsync/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	cfg           *config.Config
	svc           *api.Services
	apiKeyManager *middleware.APIKeyManager

	// stdin is replaced in tests; prompts fall back to line input when it is not a terminal
	stdin io.Reader = os.Stdin
	input *bufio.Reader

	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed, color.Bold)
)

// errCancelled is returned when the user declines a confirmation
var errCancelled = errors.New("操作已取消")

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mailsync",
	Short: "IMAP 邮件同步服务",
	Long: `mailsync 将 IMAP 邮箱同步到本地数据库，并通过 HTTP API 提供查询。

不带参数运行时启动 API 服务；带子命令时执行管理操作：
  mailsync key show                    # 显示当前 API 密钥
  mailsync key reset                   # 重置 API 密钥
  mailsync user create                 # 创建新用户
  mailsync account set --user 1 ...    # 配置 IMAP 账户
  mailsync sync run --user 1           # 立即同步一次
  mailsync sync repair --user 1        # 重置并修复同步
  mailsync folders list --user 1       # 列出文件夹`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI against wired services
func Execute(config *config.Config, services *api.Services) error {
	cfg = config
	svc = services

	var err error
	apiKeyManager, err = middleware.NewAPIKeyManager(cfg.APIKeyPath())
	if err != nil {
		return fmt.Errorf("无法初始化 API 密钥管理器: %w", err)
	}
	input = bufio.NewReader(stdin)

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errCancelled) {
			warnColor.Fprintln(rootCmd.OutOrStdout(), err.Error())
			return nil
		}
		errColor.Fprintf(rootCmd.ErrOrStderr(), "错误: %v\n", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(foldersCmd)
}

func readLine(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	line, err := input.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("读取输入失败: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// readPassword hides input on a terminal
func readPassword(cmd *cobra.Command, prompt string) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.OutOrStdout(), prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", fmt.Errorf("读取密码失败: %w", err)
		}
		return string(b), nil
	}
	return readLine(cmd, prompt)
}

// confirm asks yes/no unless --yes was given
func confirm(cmd *cobra.Command, skip bool, warning string) error {
	if skip {
		return nil
	}
	warnColor.Fprintln(cmd.OutOrStdout(), warning)
	answer, err := readLine(cmd, "确定要继续吗？(yes/no): ")
	if err != nil {
		return err
	}
	answer = strings.ToLower(answer)
	if answer != "yes" && answer != "y" {
		return errCancelled
	}
	return nil
}

func requireUser(userID uint) error {
	if userID == 0 {
		return errors.New("必须通过 --user 指定用户 ID")
	}
	_, err := svc.Users.GetUserByID(userID)
	return err
}
