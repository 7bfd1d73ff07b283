package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/clinic-recall/internal/app"
	"github.com/jmehdipour/clinic-recall/internal/model"
	"github.com/jmehdipour/clinic-recall/internal/repository"
	"github.com/jmehdipour/clinic-recall/internal/rules"
)

var seedAPIKey string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a demo clinic owner with patients, services and reminder rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Load(cfgPath)
		if err != nil {
			return err
		}
		sqlDB, err := app.OpenMySQL(cfg)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		s := seeder{
			users:    repository.NewUsersRepository(sqlDB),
			patients: repository.NewPatientsRepository(sqlDB),
			services: repository.NewServicesRepository(sqlDB),
			rules:    rules.NewService(repository.NewRulesRepository(sqlDB), repository.NewServicesRepository(sqlDB), log),
			log:      log,
		}
		if err := s.run(cmd.Context(), seedAPIKey); err != nil {
			return err
		}
		log.Info("seed complete", zap.String("api_key", seedAPIKey))
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedAPIKey, "api-key", "demo-clinic-key", "API key of the demo owner")
}

const demoOwner = "01HZZDEMOOWNER00000000000"

type seeder struct {
	users    repository.UsersRepository
	patients repository.PatientsRepository
	services repository.ServicesRepository
	rules    *rules.Service
	log      *zap.Logger
}

// run is idempotent: rows use fixed ids and rules are only added when the
// owner has none.
func (s seeder) run(ctx context.Context, apiKey string) error {
	now := time.Now().UTC().Truncate(time.Second)

	if err := s.users.Upsert(ctx, model.User{
		ID: demoOwner, Email: "demo@clinic.local", APIKey: apiKey, Status: "active",
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("seed user: %w", err)
	}

	patients := []model.Patient{
		{ID: "01HZZDEMOPATIENT000000001", FirstName: "Ana", LastName: "Quispe", Phone: "+51987654321", WhatsappConsent: true},
		{ID: "01HZZDEMOPATIENT000000002", FirstName: "Luis", LastName: "Rojas", Phone: "+51912345678", WhatsappConsent: true},
		{ID: "01HZZDEMOPATIENT000000003", FirstName: "Rosa", LastName: "Flores", Phone: "+51998877665", WhatsappConsent: false},
	}
	for _, p := range patients {
		p.OwnerID, p.CreatedAt, p.UpdatedAt = demoOwner, now, now
		if err := s.patients.Insert(ctx, p); err != nil {
			return fmt.Errorf("seed patient %s: %w", p.ID, err)
		}
	}

	services := []model.Service{
		{ID: "01HZZDEMOSERVICE000000001", Name: "Limpieza dental", Price: 12000},
		{ID: "01HZZDEMOSERVICE000000002", Name: "Ortodoncia control", Price: 8000},
	}
	for _, sv := range services {
		sv.OwnerID, sv.CreatedAt, sv.UpdatedAt = demoOwner, now, now
		if err := s.services.Insert(ctx, sv); err != nil {
			return fmt.Errorf("seed service %s: %w", sv.ID, err)
		}
	}

	existing, err := s.rules.List(ctx, demoOwner)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	if len(existing) > 0 {
		s.log.Info("rules already seeded", zap.Int("count", len(existing)))
		return nil
	}

	hourStart, hourEnd := 9, 19
	inputs := []rules.Input{
		{
			ServiceID:    &services[0].ID,
			DelayDays:    180,
			TemplateText: "Hola {nombre}, ya toca tu {servicio}. Te esperamos el {fecha}.",
			HourStart:    &hourStart,
			HourEnd:      &hourEnd,
			DaysOfWeek:   []int{1, 2, 3, 4, 5},
		},
		{
			ServiceID:    &services[1].ID,
			DelayDays:    30,
			TemplateText: "Hola {nombre}, recuerda tu control de ortodoncia.",
		},
		{
			MatchKeywords: []string{"blanqueamiento", "whitening"},
			DelayDays:     365,
			TemplateText:  "Hola {nombre}, es buen momento para repetir tu blanqueamiento.",
		},
	}
	for _, in := range inputs {
		if _, err := s.rules.Create(ctx, demoOwner, in); err != nil && !errors.Is(err, model.ErrConflict) {
			return fmt.Errorf("seed rule: %w", err)
		}
	}
	return nil
}
