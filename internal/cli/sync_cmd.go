package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/creativable/mailsync/internal/services"
	"github.com/spf13/cobra"
)

var (
	syncUser      uint
	syncFolder    string
	syncForce     bool
	syncMaxEmails int
	syncBatchSize int
	syncYes       bool
)

// syncCmd represents the sync command group
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "邮件同步",
	Long:  `立即同步、查看同步状态，以及重置或修复某个用户的同步数据。`,
}

// syncRunCmd runs one sync in the foreground
var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "立即同步一次",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(syncUser); err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		folder, err := svc.Orchestrator.ResolveFolder(syncUser, syncFolder)
		if err != nil {
			return err
		}
		sub := svc.Progress.Subscribe(cmd.Context(), syncUser, folder)
		printed := make(chan struct{})
		go func() {
			defer close(printed)
			for ev := range sub.Events() {
				fmt.Fprintf(out, "  进度 %3d%%  已获取 %d 封\n", ev.Progress, ev.EmailsCount)
			}
		}()

		result, err := svc.Orchestrator.Sync(cmd.Context(), syncUser, services.SyncOptions{
			Folder:       syncFolder,
			ForceRefresh: syncForce,
			MaxEmails:    syncMaxEmails,
			BatchSize:    syncBatchSize,
		})
		// buffered events are still drained after Cancel
		sub.Cancel()
		<-printed
		switch {
		case errors.Is(err, services.ErrSyncAlreadyRunning):
			warnColor.Fprintln(out, "该文件夹正在同步中，已跳过")
			return nil
		case errors.Is(err, services.ErrRateLimited):
			warnColor.Fprintln(out, "距上次同步过近，请稍后再试")
			return nil
		case err != nil:
			return fmt.Errorf("同步失败: %w", err)
		}

		okColor.Fprintf(out, "同步完成: %s 共 %d 封，新增 %d 封\n", folder, result.EmailsCount, result.NewCount)
		if result.Synthetic {
			warnColor.Fprintln(out, "注意: IMAP 不可用，结果为离线占位数据")
		}
		return nil
	},
}

// syncStatusCmd prints the latest run state
var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看同步状态",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(syncUser); err != nil {
			return err
		}
		folder, err := svc.Orchestrator.ResolveFolder(syncUser, syncFolder)
		if err != nil {
			return err
		}
		state, err := svc.Orchestrator.Status(syncUser, folder)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if state == nil {
			fmt.Fprintf(out, "%s 尚未同步\n", folder)
			return nil
		}
		fmt.Fprintf(out, "文件夹: %s\n", state.Folder)
		fmt.Fprintf(out, "  状态: %s  进度: %d%%  邮件数: %d\n", state.State, state.Progress, state.EmailsCount)
		fmt.Fprintf(out, "  开始: %s\n", state.StartedAt.Format("2006-01-02 15:04:05"))
		if !state.FinishedAt.IsZero() {
			fmt.Fprintf(out, "  结束: %s\n", state.FinishedAt.Format("2006-01-02 15:04:05"))
		}
		if state.LastError != "" {
			errColor.Fprintf(out, "  错误: %s\n", state.LastError)
		}
		return nil
	},
}

// syncResetCmd wipes synced data and resyncs
var syncResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "清空同步数据并重新同步",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRepair(cmd, "警告: 将删除该用户所有已同步的邮件并重新同步。", svc.Repair.Reset)
	},
}

// syncRepairCmd is reset plus the plain IMAP fallback settings
var syncRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "修复同步 (重置并调整连接参数)",
	Long: `依次执行: 清空同步数据、将 993/TLS 账户切换为 143 明文并加倍超时、
测试连接、完整同步。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRepair(cmd, "警告: 将删除该用户所有已同步的邮件，并可能修改其连接参数。", svc.Repair.Repair)
	},
}

func runRepair(cmd *cobra.Command, warning string, run func(context.Context, uint) (*services.RepairReport, error)) error {
	if err := requireUser(syncUser); err != nil {
		return err
	}
	if err := confirm(cmd, syncYes, warning); err != nil {
		return err
	}

	report, err := run(cmd.Context(), syncUser)
	if errors.Is(err, services.ErrSyncAlreadyRunning) {
		return errors.New("该用户正在同步中，请稍后再试")
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i, step := range report.Steps {
		switch {
		case step.Skipped:
			warnColor.Fprintf(out, "[%d] %-16s 跳过  %s\n", i+1, step.Step, step.Message)
		case step.Success:
			okColor.Fprintf(out, "[%d] %-16s 成功  %s\n", i+1, step.Step, step.Message)
		default:
			errColor.Fprintf(out, "[%d] %-16s 失败  %s\n", i+1, step.Step, step.Message)
		}
	}
	if !report.Success() {
		return errors.New("同步未能完成")
	}
	fmt.Fprintf(out, "已重新同步 %d 封邮件\n", report.Sync.EmailsCount)
	return nil
}

func init() {
	syncCmd.PersistentFlags().UintVar(&syncUser, "user", 0, "用户 ID")
	syncCmd.PersistentFlags().StringVar(&syncFolder, "folder", "", "文件夹 (默认使用账户设置)")

	syncRunCmd.Flags().BoolVar(&syncForce, "force", false, "强制刷新")
	syncRunCmd.Flags().IntVar(&syncMaxEmails, "max-emails", 0, "本次最多同步的邮件数")
	syncRunCmd.Flags().IntVar(&syncBatchSize, "batch-size", 0, "每批获取的邮件数")
	syncResetCmd.Flags().BoolVarP(&syncYes, "yes", "y", false, "跳过确认")
	syncRepairCmd.Flags().BoolVarP(&syncYes, "yes", "y", false, "跳过确认")

	syncCmd.AddCommand(syncRunCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncResetCmd)
	syncCmd.AddCommand(syncRepairCmd)
}
