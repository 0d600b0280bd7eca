package service

import (
	"context"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/notify"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
)

// Clock supplies the current time. Location decides which calendar day
// "today" is for expiry and monthly limits.
type Clock struct {
	Now      func() time.Time
	Location *time.Location
}

// SystemClock reads the wall clock in loc (UTC when nil).
func SystemClock(loc *time.Location) Clock {
	return Clock{Now: time.Now, Location: loc}
}

func (c Clock) now() time.Time {
	t := c.Now()
	if c.Location != nil {
		t = t.In(c.Location)
	}
	return t
}

func (c Clock) today() time.Time {
	return domain.DateOf(c.now())
}

// monthWindow is the current calendar month as instants in the clock's zone.
func (c Clock) monthWindow() (time.Time, time.Time) {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	from, to := domain.MonthBounds(c.today())
	return time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, loc),
		time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, loc)
}

// Options tunes the services.
type Options struct {
	Clock             Clock
	ExpiryWarningDays int
}

// Services is the wired set of pharmacy services.
type Services struct {
	Audit         *AuditService
	Ledger        *LedgerService
	Drugs         *DrugService
	Requests      *SupplyRequestService
	Prescriptions *PrescriptionService
	Alerts        *AlertService
	Staff         *StaffService
}

// New wires every service over the given stores.
func New(st Stores, hooks notify.Hooks, events messaging.EventPublisher, opts Options, log *logger.Logger) *Services {
	if hooks == nil {
		hooks = notify.Nop{}
	}
	if events == nil {
		events = messaging.NopPublisher{}
	}
	if opts.Clock.Now == nil {
		opts.Clock = SystemClock(time.UTC)
	}
	if opts.ExpiryWarningDays <= 0 {
		opts.ExpiryWarningDays = 30
	}

	audit := NewAuditService(st.Audit, events, opts.Clock, log.WithComponent("audit"))
	r := &runner{tx: st.Tx, audit: audit, events: events, log: log.WithComponent("effects")}

	drugs := &DrugService{
		r:             r,
		drugs:         st.Drugs,
		inventory:     st.Inventory,
		requests:      st.Requests,
		prescriptions: st.Prescriptions,
		hooks:         hooks,
		clock:         opts.Clock,
		logger:        log.WithComponent("drugs"),
	}
	ledger := &LedgerService{
		r:         r,
		inventory: st.Inventory,
		drugs:     st.Drugs,
		locations: st.Locations,
		lifecycle: drugs,
		hooks:     hooks,
		clock:     opts.Clock,
		logger:    log.WithComponent("ledger"),
	}
	locs := &locationResolver{locations: st.Locations, staff: st.Staff}

	return &Services{
		Audit:  audit,
		Ledger: ledger,
		Drugs:  drugs,
		Requests: &SupplyRequestService{
			r:        r,
			requests: st.Requests,
			drugs:    st.Drugs,
			resolver: locs,
			ledger:   ledger,
			hooks:    hooks,
			clock:    opts.Clock,
			logger:   log.WithComponent("supply_requests"),
		},
		Prescriptions: &PrescriptionService{
			r:             r,
			prescriptions: st.Prescriptions,
			dispensing:    st.Dispensing,
			drugs:         st.Drugs,
			resolver:      locs,
			ledger:        ledger,
			clock:         opts.Clock,
			logger:        log.WithComponent("prescriptions"),
		},
		Alerts: &AlertService{
			inventory: st.Inventory,
			alerts:    st.Alerts,
			hooks:     hooks,
			clock:     opts.Clock,
			warnDays:  opts.ExpiryWarningDays,
			logger:    log.WithComponent("alerts"),
		},
		Staff: NewStaffService(st.Staff, log.WithComponent("staff")),
	}
}

// requireActor returns the calling user; system work must not go through
// operations that record a requester.
func requireActor(ctx context.Context) (string, string, error) {
	a := actorOf(ctx)
	if a.IsSystem() {
		return "", "", errors.Forbidden("a user is required for this operation")
	}
	return a.ID, a.RoleName, nil
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func strPtr(s string) *string { return &s }
