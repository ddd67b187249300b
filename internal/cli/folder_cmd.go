package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	foldersUser      uint
	foldersForce     bool
	foldersDeleteYes bool
)

// foldersCmd represents the folders command group
var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "文件夹管理",
	Long:  `查看和同步文件夹目录，在服务器上创建、删除、重命名文件夹。`,
}

var foldersListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出已同步的文件夹",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(foldersUser); err != nil {
			return err
		}
		folders, err := svc.Catalog.ListFolders(foldersUser)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(folders) == 0 {
			fmt.Fprintln(out, "暂无文件夹，请先执行 folders sync")
			return nil
		}
		for _, f := range folders {
			fmt.Fprintf(out, "%-40s 未读 %-5d 共 %-6d %s\n", f.Path, f.UnreadCount, f.TotalCount, f.SpecialUse)
		}
		return nil
	},
}

var foldersSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "从服务器刷新文件夹目录",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(foldersUser); err != nil {
			return err
		}
		result, err := svc.Catalog.Sync(cmd.Context(), foldersUser, foldersForce)
		if err != nil {
			return fmt.Errorf("文件夹同步失败: %w", err)
		}

		out := cmd.OutOrStdout()
		switch {
		case result.AlreadySyncing:
			warnColor.Fprintln(out, "文件夹目录正在同步中")
		case result.Skipped:
			warnColor.Fprintln(out, "冷却期内已跳过，使用 --force 强制刷新")
		default:
			okColor.Fprintf(out, "已同步 %d 个文件夹\n", result.FolderCount)
		}
		return nil
	},
}

var foldersCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "创建文件夹",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(foldersUser); err != nil {
			return err
		}
		if err := svc.Folders.Create(cmd.Context(), foldersUser, args[0]); err != nil {
			return err
		}
		okColor.Fprintf(cmd.OutOrStdout(), "文件夹 '%s' 已创建\n", args[0])
		return nil
	},
}

var foldersDeleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "删除文件夹",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(foldersUser); err != nil {
			return err
		}
		if err := confirm(cmd, foldersDeleteYes, fmt.Sprintf("警告: 将在服务器上删除文件夹 '%s' 及其中的邮件。", args[0])); err != nil {
			return err
		}
		if err := svc.Folders.Delete(cmd.Context(), foldersUser, args[0]); err != nil {
			return err
		}
		okColor.Fprintf(cmd.OutOrStdout(), "文件夹 '%s' 已删除\n", args[0])
		return nil
	},
}

var foldersRenameCmd = &cobra.Command{
	Use:   "rename <path> <new-name>",
	Short: "重命名文件夹",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(foldersUser); err != nil {
			return err
		}
		target, err := svc.Folders.Rename(cmd.Context(), foldersUser, args[0], args[1])
		if err != nil {
			return err
		}
		okColor.Fprintf(cmd.OutOrStdout(), "'%s' 已重命名为 '%s'\n", args[0], target)
		return nil
	},
}

var foldersReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "清理重复的文件夹记录",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(foldersUser); err != nil {
			return err
		}
		result, err := svc.Catalog.Reconcile(cmd.Context(), foldersUser)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "检查 %d 条，删除 %d 条重复记录\n", result.Examined, result.Removed)
		return nil
	},
}

func init() {
	foldersCmd.PersistentFlags().UintVar(&foldersUser, "user", 0, "用户 ID")
	foldersSyncCmd.Flags().BoolVar(&foldersForce, "force", false, "忽略冷却期")
	foldersDeleteCmd.Flags().BoolVarP(&foldersDeleteYes, "yes", "y", false, "跳过确认")

	foldersCmd.AddCommand(foldersListCmd)
	foldersCmd.AddCommand(foldersSyncCmd)
	foldersCmd.AddCommand(foldersCreateCmd)
	foldersCmd.AddCommand(foldersDeleteCmd)
	foldersCmd.AddCommand(foldersRenameCmd)
	foldersCmd.AddCommand(foldersReconcileCmd)
}
