package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dukex/operion-monitor/pkg/eventbus"
	"github.com/dukex/operion-monitor/pkg/events"
	"github.com/dukex/operion-monitor/pkg/refs"
)

// ResultRecordType marks result lines in a recorded run log.
const ResultRecordType = "result"

var (
	ErrAlreadyStarted = errors.New("engine already started")
	ErrNotStarted     = errors.New("engine not started")
)

// ResultRecord is a recorded final-result callback.
type ResultRecord struct {
	Type    string        `json:"type"`
	Address []string      `json:"address"`
	Port    string        `json:"port"`
	Index   []int         `json:"index,omitempty"`
	Value   refs.Envelope `json:"value"`
}

// Record is one line of a run log: either a lifecycle event or a result.
type Record struct {
	Event  events.Event
	Result *ResultRecord
}

// ReadLog parses a JSON-lines run log. Blank lines are skipped.
func ReadLog(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var records []Record

	line := 0
	for scanner.Scan() {
		line++

		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		record, err := parseRecord(data)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		records = append(records, record)
	}

	err := scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to read run log: %w", err)
	}

	return records, nil
}

func parseRecord(data []byte) (Record, error) {
	var header struct {
		Type string `json:"type"`
	}

	err := json.Unmarshal(data, &header)
	if err != nil {
		return Record{}, fmt.Errorf("failed to decode record: %w", err)
	}

	if header.Type == ResultRecordType {
		var result ResultRecord

		err = json.Unmarshal(data, &result)
		if err != nil {
			return Record{}, fmt.Errorf("failed to decode result: %w", err)
		}

		return Record{Result: &result}, nil
	}

	event, err := events.Decode(events.EventType(header.Type), data)
	if err != nil {
		return Record{}, err
	}

	return Record{Event: event}, nil
}

// Replay is an Engine that re-emits a recorded run: events go to the bus,
// results to the registered callbacks, in log order.
type Replay struct {
	publisher eventbus.EventPublisher
	records   []Record
	logger    *slog.Logger

	mu      sync.Mutex
	results []ResultFunc
	pushed  map[string][]Token
	gate    chan struct{}
	paused  bool
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func NewReplay(publisher eventbus.EventPublisher, records []Record, logger *slog.Logger) *Replay {
	gate := make(chan struct{})
	close(gate)

	return &Replay{
		publisher: publisher,
		records:   records,
		logger:    logger.With("module", "replay_engine"),
		pushed:    make(map[string][]Token),
		gate:      gate,
		done:      make(chan struct{}),
	}
}

// Push records the token; a replayed run already carries its inputs.
func (r *Replay) Push(_ context.Context, port string, token Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pushed[port] = append(r.pushed[port], token)

	return nil
}

// Pushed returns the tokens pushed on port.
func (r *Replay) Pushed(port string) []Token {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Token(nil), r.pushed[port]...)
}

func (r *Replay) OnResult(fn ResultFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.results = append(r.results, fn)
}

func (r *Replay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}

	r.started = true

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.run(runCtx)

	return nil
}

func (r *Replay) Pause(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.paused {
		r.paused = true
		r.gate = make(chan struct{})
	}

	return nil
}

func (r *Replay) Resume(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.paused {
		r.paused = false
		close(r.gate)
	}

	return nil
}

func (r *Replay) Cancel(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return ErrNotStarted
	}

	r.cancel()

	return nil
}

// Wait blocks until the replay finished or was cancelled.
func (r *Replay) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()

		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Replay) run(ctx context.Context) {
	defer close(r.done)

	for i, record := range r.records {
		r.mu.Lock()
		gate := r.gate
		r.mu.Unlock()

		select {
		case <-gate:
		case <-ctx.Done():
			r.finish(ctx.Err())

			return
		}

		if ctx.Err() != nil {
			r.finish(ctx.Err())

			return
		}

		err := r.emit(ctx, record)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to replay record", "record", i, "error", err)
			r.finish(err)

			return
		}
	}

	r.logger.DebugContext(ctx, "Replay finished", "records", len(r.records))
}

func (r *Replay) emit(ctx context.Context, record Record) error {
	if record.Event != nil {
		return r.publisher.Publish(ctx, record.Event)
	}

	if record.Result == nil {
		return nil
	}

	if record.Result.Value.Reference == nil {
		r.logger.WarnContext(ctx, "Skipping result without value", "port", record.Result.Port)

		return nil
	}

	r.mu.Lock()
	callbacks := append([]ResultFunc(nil), r.results...)
	r.mu.Unlock()

	for _, fn := range callbacks {
		fn(ctx, record.Result.Address, record.Result.Port, record.Result.Index, record.Result.Value.Reference)
	}

	return nil
}

func (r *Replay) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.err = err
}
