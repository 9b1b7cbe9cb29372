package publish

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/TheCacophonyProject/ups-battery-monitor/batterystate"
)

// WriterSink writes each record as a line of JSON.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

func (s *WriterSink) Name() string {
	return "stdout"
}

func (s *WriterSink) Send(_ context.Context, record batterystate.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(record)
}
