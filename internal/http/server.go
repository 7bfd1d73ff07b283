package http

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jmehdipour/clinic-recall/internal/http/middleware"
	"github.com/jmehdipour/clinic-recall/internal/metrics"
	"github.com/jmehdipour/clinic-recall/internal/model"
	"github.com/jmehdipour/clinic-recall/internal/repository"
	"github.com/jmehdipour/clinic-recall/internal/rules"
	"github.com/jmehdipour/clinic-recall/internal/service/controls"
	"github.com/jmehdipour/clinic-recall/internal/service/reminders"
	"github.com/jmehdipour/clinic-recall/internal/service/webhook"
)

// RemindersService is the reminder surface the API exposes.
type RemindersService interface {
	FromServiceCompletion(ctx context.Context, in reminders.ServiceCompletion) (*model.Reminder, error)
	FromTreatmentRecord(ctx context.Context, in reminders.TreatmentRecord) (*model.Reminder, error)
	Create(ctx context.Context, in reminders.ManualReminder) (*model.Reminder, error)
	List(ctx context.Context, f repository.ReminderFilter) ([]model.Reminder, error)
	Delete(ctx context.Context, ownerID, id string) error
	SendNow(ctx context.Context, ownerID, id string) (*model.MessageLog, error)
	Attempts(ctx context.Context, ownerID, id string) ([]model.MessageLog, error)
	ProcessDueNow(ctx context.Context) (reminders.Summary, error)
}

type RulesService interface {
	List(ctx context.Context, ownerID string) ([]model.ReminderRule, error)
	Create(ctx context.Context, ownerID string, in rules.Input) (*model.ReminderRule, error)
	Update(ctx context.Context, ownerID, id string, in rules.Input) (*model.ReminderRule, error)
}

type ControlsService interface {
	Create(ctx context.Context, in controls.NewSchedule) (*model.ControlSchedule, error)
	List(ctx context.Context, ownerID string) ([]model.ControlSchedule, error)
	Pause(ctx context.Context, ownerID, id string) (*model.ControlSchedule, error)
	Resume(ctx context.Context, ownerID, id string) (*model.ControlSchedule, error)
	Cancel(ctx context.Context, ownerID, id string) (*model.ControlSchedule, error)
}

type WebhookReconciler interface {
	Reconcile(ctx context.Context, ev webhook.Event) (webhook.Outcome, error)
}

type Deps struct {
	Users        repository.UsersRepository
	Reminders    RemindersService
	Rules        RulesService
	Controls     ControlsService
	Appointments repository.AppointmentsRepository
	Webhook      WebhookReconciler
	Reports      repository.CHEventsRepository // nil when ClickHouse is disabled
	Log          *zap.Logger
}

type Server struct {
	e   *echo.Echo
	d   Deps
	log *zap.Logger
}

func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	s := &Server{d: d, log: d.Log.Named("http")}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.WARN)
	e.Use(echoMid.Recover(), s.requestLogger())

	metrics.MustRegister(prometheus.DefaultRegisterer)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// provider callback, no API key
	e.POST("/webhooks/chat", s.chatWebhook)

	// routes
	v1 := e.Group("/v1", middleware.APIKeyMiddleware(d.Users))

	v1.GET("/reminders", s.listReminders)
	v1.POST("/reminders", s.createReminder)
	v1.DELETE("/reminders/:id", s.deleteReminder)
	v1.POST("/reminders/:id/send", s.sendReminder)
	v1.GET("/reminders/:id/logs", s.reminderLogs)
	v1.POST("/reminders/process-due", s.processDue)

	v1.POST("/events/service-completed", s.serviceCompleted)
	v1.POST("/events/treatment-recorded", s.treatmentRecorded)

	v1.GET("/rules", s.listRules)
	v1.POST("/rules", s.createRule)
	v1.PUT("/rules/:id", s.updateRule)

	v1.GET("/control-schedules", s.listSchedules)
	v1.POST("/control-schedules", s.createSchedule)
	v1.POST("/control-schedules/:id/pause", s.pauseSchedule)
	v1.POST("/control-schedules/:id/resume", s.resumeSchedule)
	v1.POST("/control-schedules/:id/cancel", s.cancelSchedule)
	v1.GET("/control-schedules/:id/appointments", s.listAppointments)

	if d.Reports != nil {
		v1.GET("/reports/messages", s.listMessages)
		v1.GET("/reports/status-counts", s.statusCounts)
	}

	s.e = e
	return s
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v echoMid.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				s.log.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			s.log.Debug("request", fields...)
			return nil
		},
	})
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.e.ServeHTTP(w, r) }

func (s *Server) Start(addr string) error {
	s.log.Info("listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
