package epm

import (
	"io"

	"github.com/google/pprof/profile"

	"github.com/keystone-riscv/enclave-host/internal/mem"
)

// WriteProfile emits a pprof profile.Profile breaking the pool down into
// its four regions (page-table/bump overhead, runtime, eapp, free), one
// pseudo-"function" per region with a sample counting its page usage.
// Gated behind ENCLAVE_EPM_PROFILE in cmd/enclave-host so a normal run
// pays nothing for it (SPEC_FULL.md Domain Stack, pprof entry).
func (e *EpmMemory) WriteProfile(w io.Writer) error {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "pages", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "space", Unit: "pages"},
		Period:     1,
	}

	pageOf := func(p mem.Pa_t) int64 { return int64(p-e.Pool.Base()) / mem.PGSIZE }

	regions := []struct {
		name       string
		start, end int64
	}{
		{"pt-overhead", pageOf(e.RootPTPaddr), pageOf(e.RuntimeStartPaddr)},
		{"runtime", pageOf(e.RuntimeStartPaddr), pageOf(e.EappStartPaddr)},
		{"eapp", pageOf(e.EappStartPaddr), pageOf(e.FreeStartPaddr)},
		{"free", pageOf(e.FreeStartPaddr), int64(e.Pool.NumPages())},
	}

	for i, r := range regions {
		id := uint64(i + 1)
		fn := &profile.Function{ID: id, Name: r.name}
		loc := &profile.Location{ID: id, Line: []profile.Line{{Function: fn, Line: 0}}}
		npages := r.end - r.start
		if npages < 0 {
			npages = 0
		}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{npages},
		})
	}

	return p.Write(w)
}
