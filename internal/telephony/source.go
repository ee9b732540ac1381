package telephony

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

const (
	// DefaultOperator is reported for slots without an active subscription
	DefaultOperator = "Unknown"

	// Unavailable is the value platforms report when a subscription has no
	// signal measurement
	Unavailable = -999

	minDBm = -160
	maxDBm = 0
)

var (
	// ErrNoActiveSubscription is reported when no SIM slot has a subscription
	ErrNoActiveSubscription = errors.New("no active subscription")

	// ErrAlreadyListening is returned by Start when the source is already listening
	ErrAlreadyListening = errors.New("signal source is already listening")
)

// WithDefaultOperator sets the operator name reported for slots without data
func WithDefaultOperator(name string) func(s *Source) {
	return func(s *Source) {
		s.defaultOperator = name
	}
}

// WithLogger sets the logger for the source
func WithLogger(logger *slog.Logger) func(s *Source) {
	return func(s *Source) {
		s.logger = logger.With(slog.String("source", "telephony"))
	}
}

// WithSubscriptions attaches modem subscriptions to the source
func WithSubscriptions(modems ...*Modem) func(s *Source) {
	return func(s *Source) {
		s.modems = append(s.modems, modems...)
	}
}

// Source keeps the latest signal strength for each SIM slot. Updates arrive
// asynchronously from the modem subscriptions and the last write wins.
type Source struct {
	mu      sync.RWMutex
	samples [survey.Slots]survey.SignalSample

	defaultOperator string
	modems          []*Modem

	listenMu  sync.Mutex
	listening bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	logger *slog.Logger
}

// NewSource creates a new Source with every slot at the "no data" sentinel
func NewSource(options ...func(s *Source)) *Source {
	s := Source{
		defaultOperator: DefaultOperator,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	for slot := range s.samples {
		s.samples[slot] = survey.SignalSample{Slot: slot, Operator: s.defaultOperator}
	}

	return &s
}

// CurrentReading returns the most recent sample for the slot, or the sentinel
// sample if the slot has no subscription or no report has arrived yet.
func (s *Source) CurrentReading(slot int) survey.SignalSample {
	if slot < 0 || slot >= survey.Slots {
		return survey.SignalSample{Slot: slot, Operator: s.defaultOperator}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sample := s.samples[slot]
	if sample.DBm != nil {
		dbm := *sample.DBm
		sample.DBm = &dbm
	}
	return sample
}

// Register records the operator name of the subscription in slot.
func (s *Source) Register(slot int, operator string) {
	if slot < 0 || slot >= survey.Slots {
		return
	}
	if operator == "" {
		operator = s.defaultOperator
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples[slot].Operator = operator
}

// Update stores a new signal strength for slot. Values outside the plausible
// dBm range, such as platform "unavailable" markers, clear the slot instead.
func (s *Source) Update(slot int, dbm int) {
	if slot < 0 || slot >= survey.Slots {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dbm < minDBm || dbm >= maxDBm {
		s.samples[slot].DBm = nil
		return
	}
	s.samples[slot].DBm = &dbm
}

// Start attaches every subscription and begins listening for signal strength
// reports. A source without subscriptions is valid: both slots then report
// the sentinel for the whole session.
func (s *Source) Start(ctx context.Context) error {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()

	if s.listening {
		return ErrAlreadyListening
	}

	s.reset()

	if len(s.modems) == 0 {
		s.logger.Warn(ErrNoActiveSubscription.Error())
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.listening = true

	for _, modem := range s.modems {
		s.Register(modem.Slot(), modem.Operator())

		s.wg.Add(1)
		go func(m *Modem) {
			defer s.wg.Done()

			err := m.Listen(ctx, func(dbm int) {
				s.Update(m.Slot(), dbm)
			})
			if err != nil {
				s.logger.Error(err.Error(), slog.Int("slot", m.Slot()))
			}

			// a stopped subscription has no current reading
			s.Update(m.Slot(), Unavailable)
		}(modem)
	}

	return nil
}

// Stop detaches every subscription and waits for them to exit.
func (s *Source) Stop() {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()

	if !s.listening {
		return // already stopped
	}

	s.cancel()
	s.wg.Wait()
	s.listening = false
}

// reset drops the measurements of a previous session
func (s *Source) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for slot := range s.samples {
		s.samples[slot].DBm = nil
	}
}
