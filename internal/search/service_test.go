package search

import (
	"errors"
	"testing"
)

type fakeSearcher struct {
	healthy bool
	results []Result
	total   int
	err     error
	calls   int
}

func (f *fakeSearcher) Healthy() bool { return f.healthy }

func (f *fakeSearcher) Search(q Query) ([]Result, int, error) {
	f.calls++
	return f.results, f.total, f.err
}

func TestSearchAcrossSkipsUnhealthyBackend(t *testing.T) {
	down := &fakeSearcher{healthy: false}
	up := &fakeSearcher{
		healthy: true,
		results: []Result{{ProjID: "p1", SharedName: "pong"}},
		total:   1,
	}

	resp := searchAcross([]Searcher{down, up}, Query{Text: "pong"})
	if down.calls != 0 {
		t.Error("unhealthy backend should not be queried")
	}
	if len(resp.Results) != 1 || resp.Results[0].ProjID != "p1" {
		t.Errorf("results = %+v, want hit from fallback", resp.Results)
	}
	if resp.Query != "pong" {
		t.Errorf("query echo = %q, want pong", resp.Query)
	}
}

func TestSearchAcrossFallsThroughOnError(t *testing.T) {
	broken := &fakeSearcher{healthy: true, err: errors.New("index offline")}
	up := &fakeSearcher{
		healthy: true,
		results: []Result{{ProjID: "p2", SharedName: "maze"}},
		total:   1,
	}

	resp := searchAcross([]Searcher{broken, up}, Query{Text: "maze"})
	if broken.calls != 1 {
		t.Error("erroring backend should be tried once")
	}
	if resp.Total != 1 || resp.Results[0].ProjID != "p2" {
		t.Errorf("response = %+v, want fallback hit", resp)
	}
}

func TestSearchAcrossAllBackendsDown(t *testing.T) {
	resp := searchAcross([]Searcher{
		&fakeSearcher{healthy: false},
		&fakeSearcher{healthy: true, err: errors.New("timeout")},
	}, Query{Text: "cat"})

	if resp.Results == nil {
		t.Fatal("results must be an empty slice, not nil")
	}
	if len(resp.Results) != 0 || resp.Total != 0 {
		t.Errorf("response = %+v, want empty", resp)
	}
}
