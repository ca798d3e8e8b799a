package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/romariotrain/vod-pipeline/internal/app"
	"github.com/romariotrain/vod-pipeline/internal/media/models"
	"github.com/romariotrain/vod-pipeline/internal/media/service"
	"github.com/romariotrain/vod-pipeline/internal/storage/postgres"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "ingest <raw-asset-key>",
		Short: "Register an uploaded raw asset and schedule its transcode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), cmd.ErrOrStderr(), func(svc *service.Service) error {
				item, err := svc.Ingest(cmd.Context(), service.IngestRequest{
					RawAssetRef: args[0],
					Kind:        models.Kind(kind),
				})
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderItem(item))
				if svc.Pending() > 0 {
					return fmt.Errorf("content %s was created but its job was not published; run mediactl requeue %s", item.ID, item.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(models.Movie), "Content kind (movie or episode)")
	return cmd
}

func newRequeueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <content-id>",
		Short: "Publish the first transcode job of a DRAFT item again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseContentID(args[0])
			if err != nil {
				return err
			}
			return ctx.withService(cmd.Context(), cmd.ErrOrStderr(), func(svc *service.Service) error {
				if err := svc.Requeue(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s\n", id)
				return nil
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <content-id>",
		Short: "Give a FAILED item a fresh attempt budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseContentID(args[0])
			if err != nil {
				return err
			}
			return ctx.withService(cmd.Context(), cmd.ErrOrStderr(), func(svc *service.Service) error {
				item, err := svc.Retry(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderItem(item))
				return nil
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status [content-id]",
		Short: "Show item counts per status, or one item",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), cmd.ErrOrStderr(), func(svc *service.Service) error {
				if len(args) == 1 {
					id, err := parseContentID(args[0])
					if err != nil {
						return err
					}
					item, err := svc.Get(cmd.Context(), id)
					if errors.Is(err, models.ErrNotFound) {
						return fmt.Errorf("content %s not found", id)
					}
					if err != nil {
						return err
					}
					fmt.Fprint(cmd.OutOrStdout(), renderItem(item))
					return nil
				}

				stats, err := svc.Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows := buildStatusRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No content")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail items stuck in PROCESSING and reschedule those with attempts left",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackends(cmd.Context(), cmd.ErrOrStderr(), func(b *app.Backends) error {
				sweeper, err := app.NewSweeper(ctx.cfg, b, ctx.logger)
				if err != nil {
					return err
				}
				res, err := sweeper.SweepOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Failed %d stalled item(s), requeued %d\n", res.Failed, res.Requeued)
				return nil
			})
		},
	}
}

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			db, err := postgres.Connect(cmd.Context(), cfg.DB.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema applied")
			return nil
		},
	}
}

func parseContentID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid content id %q", s)
	}
	return id, nil
}
