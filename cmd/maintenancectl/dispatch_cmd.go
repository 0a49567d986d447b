package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/dispatch"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/lifecycle"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/sla"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/infrastructure/persistence"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/services"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/composables"
)

type previewOutput struct {
	Found        bool    `json:"found"`
	TechnicianID string  `json:"technician_id,omitempty"`
	DistanceKm   string  `json:"distance_km,omitempty"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
}

func newDispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Inspect dispatch decisions",
	}
	cmd.AddCommand(newDispatchPreviewCmd())
	return cmd
}

func newDispatchPreviewCmd() *cobra.Command {
	var (
		lat, lng       float64
		specialization string
	)
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show which technician dispatch would pick for a point, without assigning",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			defer conf.Unload()

			pool, err := connectDB(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer pool.Close()

			machine, err := lifecycle.NewDefaultMachine(conf.Logger())
			if err != nil {
				return err
			}
			svc := services.NewRequestService(services.Repositories{
				Requests:    persistence.NewRequestRepository(),
				Technicians: persistence.NewTechnicianRepository(),
				Audit:       persistence.NewAuditRepository(),
				Tx:          persistence.NewTransactor(),
			}, machine, sla.DefaultTable(), services.WithSearchRadius(conf.Dispatch.SearchRadiusKm))

			ctx := composables.WithPool(cmd.Context(), pool)
			res, err := svc.PreviewDispatch(ctx, lat, lng, specialization)
			out := previewOutput{Latitude: lat, Longitude: lng}
			switch {
			case errors.Is(err, dispatch.ErrNoAvailableTechnician):
			case err != nil:
				return err
			default:
				out.Found = true
				out.TechnicianID = res.TechnicianID.String()
				out.DistanceKm = res.RoundedDistance().String()
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude (required)")
	cmd.Flags().Float64Var(&lng, "lng", 0, "Longitude (required)")
	cmd.Flags().StringVar(&specialization, "specialization", "", "Required technician specialization")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")
	return cmd
}
