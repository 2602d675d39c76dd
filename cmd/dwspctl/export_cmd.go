package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
	"github.com/nzwater/compliance-core/modules/compliance/infrastructure/persistence"
	"github.com/nzwater/compliance-core/modules/compliance/services"
	"github.com/nzwater/compliance-core/pkg/composables"
)

type exportOptions struct {
	tenantID uuid.UUID
	output   string
	status   string
	planType string
}

func newExportCmd() *cobra.Command {
	var opts exportOptions
	var tenant string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a tenant's plans to an xlsx workbook",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(tenant)
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid --tenant: %w", err))
			}
			opts.tenantID = id
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant UUID (required)")
	cmd.Flags().StringVar(&opts.output, "output", "", "Output .xlsx path (required)")
	cmd.Flags().StringVar(&opts.status, "status", "", "Only export plans in this status")
	cmd.Flags().StringVar(&opts.planType, "type", "", "Only export plans of this type")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (o exportOptions) findParams() (*plan.FindParams, error) {
	params := &plan.FindParams{}
	if o.status != "" {
		status, err := plan.ParseStatus(o.status)
		if err != nil {
			return nil, err
		}
		params.Status = status
	}
	if o.planType != "" {
		planType, err := plan.ParseType(o.planType)
		if err != nil {
			return nil, err
		}
		params.PlanType = planType
	}
	return params, nil
}

func runExport(ctx context.Context, opts exportOptions) error {
	params, err := opts.findParams()
	if err != nil {
		return withCode(exitUsage, err)
	}
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := connectDB(ctx, conf)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := services.NewPlanService(services.PlanServiceOptions{
		Repo:      persistence.NewPlanRepository(),
		AuditRepo: persistence.NewAuditRepository(),
	})

	ctx = composables.WithPool(ctx, pool)
	ctx = composables.WithRLSMode(ctx, conf.RLSEnforce)
	ctx = composables.WithTenantID(ctx, opts.tenantID)
	ctx = composables.WithActor(ctx, composables.Actor{ID: cliActorID, Role: "system_admin"})
	ctx = composables.WithLogger(ctx, conf.Logger().WithField("command", "export"))

	f, err := os.Create(opts.output)
	if err != nil {
		return withCode(exitUsage, err)
	}
	w := bufio.NewWriter(f)
	if err := svc.Export(ctx, params, w); err != nil {
		_ = f.Close()
		_ = os.Remove(opts.output)
		return withCode(exitDB, err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// cliActorID identifies operator tooling in audit trails.
var cliActorID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("dwspctl"))
