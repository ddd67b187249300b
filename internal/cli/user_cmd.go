package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	userCreateName     string
	userCreateNickname string
	userDeleteYes      bool
)

// userCmd represents the user command group
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "用户管理",
	Long:  `管理系统用户，包括创建、列出、删除用户和重置密码。`,
}

// userCreateCmd creates a new user
var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "创建新用户",
	RunE: func(cmd *cobra.Command, args []string) error {
		username := userCreateName
		if username == "" {
			var err error
			if username, err = readLine(cmd, "请输入用户名: "); err != nil {
				return err
			}
		}
		if username == "" {
			return errors.New("用户名不能为空")
		}

		password, err := promptNewPassword(cmd)
		if err != nil {
			return err
		}

		nickname := userCreateNickname
		if nickname == "" {
			nickname = username
		}

		newUser, err := svc.Users.CreateUser(username, password, nickname)
		if err != nil {
			return fmt.Errorf("创建用户失败: %w", err)
		}

		out := cmd.OutOrStdout()
		okColor.Fprintln(out, "用户创建成功！")
		fmt.Fprintf(out, "  ID: %d\n", newUser.ID)
		fmt.Fprintf(out, "  用户名: %s\n", newUser.Username)
		fmt.Fprintf(out, "  昵称: %s\n", newUser.Nickname)
		return nil
	},
}

// userListCmd lists all users
var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出所有用户",
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := svc.Users.ListUsers()
		if err != nil {
			return fmt.Errorf("获取用户列表失败: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(users) == 0 {
			fmt.Fprintln(out, "系统中暂无用户。")
			return nil
		}

		fmt.Fprintln(out, "----------------------------------------------------------------")
		fmt.Fprintf(out, "%-6s %-20s %-30s %s\n", "ID", "用户名", "IMAP", "上次同步")
		fmt.Fprintln(out, "----------------------------------------------------------------")
		for _, u := range users {
			imapAddr, lastSync := "-", "-"
			if acc := u.EmailAccount; acc != nil {
				imapAddr = fmt.Sprintf("%s:%d", acc.IMAPHost, acc.IMAPPort)
				if !acc.LastSyncAt.IsZero() {
					lastSync = acc.LastSyncAt.Format("2006-01-02 15:04:05")
				}
			}
			fmt.Fprintf(out, "%-6d %-20s %-30s %s\n", u.ID, u.Username, imapAddr, lastSync)
		}
		fmt.Fprintln(out, "----------------------------------------------------------------")
		fmt.Fprintf(out, "共 %d 个用户\n", len(users))
		return nil
	},
}

// userDeleteCmd deletes a user with all synced data
var userDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "删除用户及其同步数据",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		target, err := svc.Users.GetUserByID(userID)
		if err != nil {
			return err
		}
		if err := confirm(cmd, userDeleteYes, fmt.Sprintf("警告: 即将删除用户 '%s' (ID: %d) 及其所有邮件。", target.Username, target.ID)); err != nil {
			return err
		}
		if err := svc.Users.DeleteUser(userID); err != nil {
			return fmt.Errorf("删除用户失败: %w", err)
		}
		okColor.Fprintf(cmd.OutOrStdout(), "用户 '%s' 已删除\n", target.Username)
		return nil
	},
}

// userResetPwdCmd resets a user's password
var userResetPwdCmd = &cobra.Command{
	Use:   "reset-pwd <id>",
	Short: "重置用户密码",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		target, err := svc.Users.GetUserByID(userID)
		if err != nil {
			return err
		}

		password, err := promptNewPassword(cmd)
		if err != nil {
			return err
		}
		if err := svc.Users.ResetPassword(userID, password); err != nil {
			return fmt.Errorf("重置密码失败: %w", err)
		}
		okColor.Fprintf(cmd.OutOrStdout(), "用户 '%s' 的密码已重置成功！\n", target.Username)
		return nil
	},
}

func promptNewPassword(cmd *cobra.Command) (string, error) {
	password, err := readPassword(cmd, "请输入密码 (至少6位): ")
	if err != nil {
		return "", err
	}
	if len(password) < 6 {
		return "", errors.New("密码长度至少为6位")
	}
	again, err := readPassword(cmd, "请再次输入密码: ")
	if err != nil {
		return "", err
	}
	if password != again {
		return "", errors.New("两次输入的密码不一致")
	}
	return password, nil
}

func parseUserID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("无效的用户 ID: %s", s)
	}
	return uint(id), nil
}

func init() {
	userCreateCmd.Flags().StringVar(&userCreateName, "username", "", "用户名")
	userCreateCmd.Flags().StringVar(&userCreateNickname, "nickname", "", "昵称 (默认同用户名)")
	userDeleteCmd.Flags().BoolVarP(&userDeleteYes, "yes", "y", false, "跳过确认")

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userResetPwdCmd)
}
