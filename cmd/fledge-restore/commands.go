package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/charithmadhuranga/fledge/internal/joblock"
	"github.com/charithmadhuranga/fledge/internal/metrics"
	"github.com/charithmadhuranga/fledge/internal/restore"
	"github.com/charithmadhuranga/fledge/internal/server"
)

var version = "dev"

func buildRoot() *cobra.Command {
	var gf GlobalFlags
	var rf RestoreFlags

	root := &cobra.Command{
		Use:   "fledge-restore",
		Short: "Cold restore of the Fledge storage layer from a backup",
		Long: `Restores the entire storage repository from a previous backup.

The service is stopped before the restore starts and restarted at the end,
whether or not the restore succeeded. Without options the latest eligible
backup is restored.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rf.BackupID != 0 && rf.File != "" {
				return fmt.Errorf("%w: --backup-id and --file are mutually exclusive", restore.ErrInvalidArguments)
			}
			app, err := newApp(gf)
			if err != nil {
				return err
			}
			defer app.Close()

			stopIgnoring := ignoreSignals(app.Logger)
			defer stopIgnoring()

			app.Logger.Info("execution started", "backup_id", rf.BackupID, "file", rf.File)
			err = app.Orchestrator().Run(context.Background(), restore.Request{
				BackupID: rf.BackupID,
				FileName: rf.File,
			})
			if err != nil {
				app.Logger.Error("restore run failed", "error", err)
				return err
			}
			app.Logger.Info("execution completed")
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&gf.ManagerURL, "manager-url", "", "configuration manager base URL (empty: use local cache)")
	pf.StringVar(&gf.CacheDir, "cache-dir", "", "directory of the configuration cache file")
	pf.StringVar(&gf.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	pf.StringVar(&gf.LogFile, "log-file", "", "optional rotating log file")

	root.Flags().Int64Var(&rf.BackupID, "backup-id", 0, "restore a specific backup by catalog id")
	root.Flags().StringVar(&rf.File, "file", "", "restore a backup from a specific file path")

	root.AddCommand(buildServeCmd(&gf))
	root.AddCommand(buildStatusCmd(&gf))
	root.AddCommand(buildBackupsCmd(&gf))
	root.AddCommand(buildUnlockCmd(&gf))
	root.AddCommand(buildVersionCmd())
	return root
}

func buildServeCmd(gf *GlobalFlags) *cobra.Command {
	var sf ServeFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the on-demand restore trigger API",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(*gf)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
				return err
			}

			listen := sf.Listen
			if listen == "" {
				listen = app.Config.Listen
			}
			api := &server.API{
				Catalog: app.Catalog,
				Lock:    app.Lock,
				Service: app.Service,
				Logger:  app.Logger,
				Run: func(ctx context.Context, req restore.Request) error {
					return app.Orchestrator().Run(ctx, req)
				},
			}
			srv := server.NewServer(listen, "/fledge", api)

			go func() {
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
				<-sig
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()

			app.Logger.Info("restore trigger API listening", "addr", listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sf.Listen, "listen", "", "listen address (default from configuration)")
	return cmd
}

func buildStatusCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report service lifecycle state and job lock owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(*gf)
			if err != nil {
				return err
			}
			defer app.Close()

			state, err := app.Service.Status(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("service: %s\n", state)
			if pid := app.Lock.IsRunning(); pid != 0 {
				fmt.Printf("job lock: held by pid %d\n", pid)
			} else {
				fmt.Println("job lock: free")
			}
			return nil
		},
	}
}

func buildBackupsCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "Show the backup a plain restore would pick",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(*gf)
			if err != nil {
				return err
			}
			defer app.Close()

			b, err := app.Catalog.IdentifyLastBackup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("id: %d\nfile: %s\nts: %s\nstatus: %s\n", b.ID, b.FileName, b.TS.Format(time.RFC3339), b.Status)
			return nil
		},
	}
}

func buildUnlockCmd(gf *GlobalFlags) *cobra.Command {
	var uf UnlockFlags
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Clear a leaked job lock marker (operator action)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var kind joblock.Kind
			switch uf.Kind {
			case "backup":
				kind = joblock.KindBackup
			case "restore":
				kind = joblock.KindRestore
			default:
				return fmt.Errorf("%w: --kind must be backup or restore", restore.ErrInvalidArguments)
			}
			app, err := newApp(*gf)
			if err != nil {
				return err
			}
			defer app.Close()

			app.Lock.SetAsCompleted(kind)
			app.Logger.Info("lock marker cleared", "kind", kind)
			return nil
		},
	}
	cmd.Flags().StringVar(&uf.Kind, "kind", "restore", "lock kind to clear (backup|restore)")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

// ignoreSignals keeps an external supervisor's INT/TERM/HUP from aborting a
// restore mid-flight and leaving the service stopped. Each received signal
// is logged and otherwise has no effect; the returned func restores default
// delivery.
func ignoreSignals(logger *slog.Logger) func() {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				logger.Warn("signal received and ignored during restore", "signal", sig.String())
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
