package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	internaldb "farm-access/internal/db"
	"farm-access/internal/domain"
)

func newVersionCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if g.output == "json" {
				return printJSON(g.out, map[string]string{"version": version, "commit": commit})
			}
			_, _ = fmt.Fprintf(g.out, "govctl version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}

func newMigrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations to the ledger",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			store, err := internaldb.OpenStore(g.cfg.DBPath, 1)
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck
			v, err := internaldb.SchemaVersion(store.Write)
			if err != nil {
				return err
			}
			return g.emit(map[string]any{"db": g.cfg.DBPath, "schema_version": v},
				[]string{"db", "schema version"},
				[][]string{{g.cfg.DBPath, strconv.FormatInt(v, 10)}})
		},
	}
}

func newSweepCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire pending access requests past their review deadline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.open()
			if err != nil {
				return err
			}
			defer s.Close()
			n, err := s.Services.Workflow.ExpireOverdue(cmd.Context())
			if err != nil {
				return err
			}
			return g.emit(map[string]int{"expired": n}, []string{"expired"}, [][]string{{strconv.Itoa(n)}})
		},
	}
}

func newDriftCmd(g *globals) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Report permission drift for a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.open()
			if err != nil {
				return err
			}
			defer s.Close()
			findings, err := s.Services.Drift.Detect(cmd.Context(), tenant)
			if err != nil {
				return err
			}
			rows := make([][]string, len(findings))
			for i, f := range findings {
				rows[i] = []string{f.SubjectID, f.GrantID, string(f.Type), string(f.Severity), f.Description}
			}
			return g.emit(findings, []string{"subject", "grant", "type", "severity", "description"}, rows)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant (farm) to scan")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newRemediateCmd(g *globals) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "remediate",
		Short: "Deactivate grants that are past expiry but still flagged active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.open()
			if err != nil {
				return err
			}
			defer s.Close()
			n, err := s.Services.Ledger.RemediateExpired(cmd.Context(), tenant)
			if err != nil {
				return err
			}
			return g.emit(map[string]int{"remediated": n}, []string{"remediated"}, [][]string{{strconv.Itoa(n)}})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant (farm) to remediate")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newAnalyticsCmd(g *globals) *cobra.Command {
	var (
		tenant string
		window int
	)
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Summarize a tenant's access activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.open()
			if err != nil {
				return err
			}
			defer s.Close()
			sum, err := s.Services.Analytics.Summarize(cmd.Context(), tenant, window)
			if err != nil {
				return err
			}
			rows := [][]string{
				{"total requests", strconv.FormatInt(sum.TotalRequests, 10)},
				{"approved", strconv.FormatInt(sum.ApprovedRequests, 10)},
				{"denied", strconv.FormatInt(sum.DeniedRequests, 10)},
				{"emergency", strconv.FormatInt(sum.EmergencyAccesses, 10)},
				{"risk score", strconv.Itoa(sum.RiskScore)},
			}
			for _, p := range sum.TopRequestedPermissions {
				rows = append(rows, []string{"requested " + p.Permission, strconv.FormatInt(p.Count, 10)})
			}
			return g.emit(sum, []string{"metric", "value"}, rows)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant (farm) to summarize")
	cmd.Flags().IntVar(&window, "window", 30, "window in days")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newCheckCmd(g *globals) *cobra.Command {
	var subject, tenant, permission, resource string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Resolve a permission check and print the decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.open()
			if err != nil {
				return err
			}
			defer s.Close()
			var resourceID *string
			if resource != "" {
				resourceID = &resource
			}
			d := s.Services.Resolver.Resolve(cmd.Context(), subject, tenant, permission, resourceID, nil)
			return g.emit(map[string]any{"allowed": d.Allowed, "reason": d.Reason},
				[]string{"allowed", "reason"},
				[][]string{{strconv.FormatBool(d.Allowed), d.Reason}})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject id")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant (farm) id")
	cmd.Flags().StringVar(&permission, "permission", "", "permission id, e.g. farms.read")
	cmd.Flags().StringVar(&resource, "resource", "", "optional resource id")
	for _, f := range []string{"subject", "tenant", "permission"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newGrantRoleCmd(g *globals) *cobra.Command {
	var (
		subject, tenant, role, reason string
		expires                       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant a catalog role as the operator (bootstraps tenant administrators)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.open()
			if err != nil {
				return err
			}
			defer s.Close()
			r, ok := s.Catalog.Role(role)
			if !ok {
				return domain.ErrNotFound("role %q not found", role)
			}
			ng := domain.NewGrant{
				SubjectID:   subject,
				TenantID:    tenant,
				RoleID:      r.ID,
				Permissions: r.Permissions,
				Reason:      reason,
				GrantedBy:   "govctl",
			}
			if expires > 0 {
				at := time.Now().UTC().Add(expires)
				ng.ExpiresAt = &at
			}
			id, err := s.Services.Ledger.CreateGrant(cmd.Context(), ng)
			if err != nil {
				return err
			}
			return g.emit(map[string]string{"grant_id": id}, []string{"grant id"}, [][]string{{id}})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject id")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant (farm) id")
	cmd.Flags().StringVar(&role, "role", "", "catalog role id")
	cmd.Flags().StringVar(&reason, "reason", "granted by operator", "audit reason")
	cmd.Flags().DurationVar(&expires, "expires", 0, "grant lifetime, e.g. 720h (default: no expiry)")
	for _, f := range []string{"subject", "tenant", "role"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
