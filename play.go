package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"web/papercloud/render"
	"web/papercloud/scene"
)

func newPlayCmd() *cobra.Command {
	var noClear bool
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Run the exploration in the terminal until every included paper is seen",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			store, ix, err := loadDataset(cfg, log, false)
			if err != nil {
				return err
			}
			meshes, err := openMeshes(cfg, log)
			if err != nil {
				return err
			}
			session, err := cfg.Session()
			if err != nil {
				return err
			}
			cfg.Watch(session, log)

			termOpts := render.DefaultTermOptions()
			termOpts.Clear = !noClear
			camera := cfg.Camera()
			layout := render.DefaultBarLayout()
			layout.MaxBars = cfg.MaxBars()

			sc, err := scene.New(store, ix, scene.Options{
				Session:  session,
				Camera:   &camera,
				Layout:   &layout,
				Scale:    cfg.Scale(),
				Renderer: render.NewTerm(cmd.OutOrStdout(), termOpts),
				Meshes:   meshes,
				Logger:   log,
			})
			if err != nil {
				return err
			}
			defer sc.Close()

			fps := cfg.FPS()
			if fps <= 0 {
				fps = 30
			}
			ticker := time.NewTicker(time.Second / time.Duration(fps))
			defer ticker.Stop()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(quit)

			last := time.Now()
			for {
				select {
				case <-quit:
					log.Info().Msg("Interrupted")
					return nil
				case now := <-ticker.C:
					if _, err := sc.Frame(now.Sub(last).Seconds()); err != nil {
						return err
					}
					last = now
					if snap := sc.Snapshot(); snap.Exhausted {
						log.Info().Int("clusters", len(snap.Passed)).Msg("Exploration complete")
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&noClear, "no-clear", false, "append frames instead of redrawing the screen")
	return cmd
}
