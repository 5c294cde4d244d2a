//go:build linux

// Linux implementation of the kernel boundary. The shim object is prebuilt
// from bpf/clitap.bpf.c (it declares the GPL license tag required for the
// probe-read helpers) and loaded here by path, so no generated bindings are
// needed at compile time.
package hooks

import (
	"context"
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"

	"github.com/clitap/clitap/probe"
)

// tracepoints lists shim program names and their attach points.
var tracepoints = []struct {
	group, name, program string
}{
	{"syscalls", "sys_enter_execve", "trace_execve"},
	{"syscalls", "sys_enter_connect", "trace_connect"},
	{"syscalls", "sys_enter_write", "trace_write"},
	{"sched", "sched_process_exit", "trace_exit"},
}

// Tracer owns the loaded shim collection, its tracepoint links, and the ring
// buffer reader that feeds the probe.
type Tracer struct {
	probe  *probe.Probe
	log    *zap.Logger
	coll   *ebpf.Collection
	links  []link.Link
	reader *ringbuf.Reader
	mem    memoryOpener
}

// NewTracer loads the shim object from objPath and attaches the four
// tracepoints.
func NewTracer(objPath string, p *probe.Probe, log *zap.Logger) (*Tracer, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("remove memlock limit: %w", err)
	}

	spec, err := ebpf.LoadCollectionSpec(objPath)
	if err != nil {
		return nil, fmt.Errorf("load shim object %s: %w", objPath, err)
	}
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("create shim collection: %w", err)
	}

	t := &Tracer{probe: p, log: log, coll: coll, mem: procMemoryOpener{}}

	for _, tp := range tracepoints {
		prog, ok := coll.Programs[tp.program]
		if !ok {
			t.Close()
			return nil, fmt.Errorf("shim object missing program %s", tp.program)
		}
		l, err := link.Tracepoint(tp.group, tp.name, prog, nil)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("attach %s/%s: %w", tp.group, tp.name, err)
		}
		t.links = append(t.links, l)
	}

	events, ok := coll.Maps["events"]
	if !ok {
		t.Close()
		return nil, errors.New("shim object missing events map")
	}
	reader, err := ringbuf.NewReader(events)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("open ring buffer: %w", err)
	}
	t.reader = reader

	log.Info("kernel hooks attached", zap.Int("tracepoints", len(t.links)))
	return t, nil
}

// Run drains raw notifications until ctx is done or the reader is closed.
func (t *Tracer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		t.reader.Close()
	}()

	for {
		record, err := t.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return nil
			}
			t.log.Warn("ring buffer read", zap.Error(err))
			continue
		}

		ev, err := decodeRawEvent(record.RawSample)
		if err != nil {
			t.log.Warn("malformed raw event", zap.Error(err))
			continue
		}
		dispatch(t.probe, ev, t.mem)
	}
}

// Close detaches the tracepoints and releases the shim collection.
func (t *Tracer) Close() error {
	var errs []error
	if t.reader != nil {
		if err := t.reader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, l := range t.links {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if t.coll != nil {
		t.coll.Close()
	}
	return errors.Join(errs...)
}
