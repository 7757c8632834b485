package selector

import (
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/nitecon/director/internal/core"
)

type fakeCounter struct {
	counts map[string]int
}

func (f fakeCounter) CountByHost(host string) int { return f.counts[host] }

func podCandidate(name string, labels map[string]string, ip string) core.Candidate {
	obj := &unstructured.Unstructured{Object: map[string]any{
		"metadata": map[string]any{
			"name":   name,
			"labels": toAny(labels),
		},
		"spec": map[string]any{
			"containers": []any{
				map[string]any{"ports": []any{map[string]any{"containerPort": int64(7777)}}},
			},
		},
		"status": map[string]any{
			"podIP": ip,
		},
	}}
	return core.Candidate{Object: obj}
}

func toAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var podSpec = core.KindSpec{
	Group: "", Version: "v1", Resource: "pods",
	AddressPath: "status.podIP",
	Ports:       []core.PortSpec{{Name: "game", PortPath: "spec.containers[0].ports[0].containerPort"}},
}

func TestSelect_LabelArithmetic_S4(t *testing.T) {
	a := podCandidate("a", map[string]string{"current": "45", "max": "50"}, "10.0.0.1")
	b := podCandidate("b", map[string]string{"current": "30", "max": "50"}, "10.0.0.2")
	c := podCandidate("c", map[string]string{"current": "49", "max": "50"}, "10.0.0.3")

	policy := core.LBConfig{Type: core.LabelArithmetic, CurrentLabel: "current", MaxLabel: "max", Overlap: 2}
	counter := fakeCounter{counts: map[string]int{}}

	binding, err := Select([]core.Candidate{a, b, c}, podSpec, core.SelectRequest{}, policy, counter)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if binding.Host != "10.0.0.2" {
		t.Errorf("got host %q, want 10.0.0.2 (candidate b)", binding.Host)
	}
}

func TestSelect_LabelArithmetic_Overcapacity(t *testing.T) {
	a := podCandidate("a", map[string]string{"current": "50", "max": "50"}, "10.0.0.1")

	policy := core.LBConfig{Type: core.LabelArithmetic, CurrentLabel: "current", MaxLabel: "max", Overlap: 0}
	counter := fakeCounter{counts: map[string]int{}}

	_, err := Select([]core.Candidate{a}, podSpec, core.SelectRequest{}, policy, counter)
	if _, ok := err.(*core.ErrOvercapacity); !ok {
		t.Fatalf("got %v, want ErrOvercapacity", err)
	}
}

func TestSelect_LeastSessions(t *testing.T) {
	a := podCandidate("a", nil, "10.0.0.1")
	b := podCandidate("b", nil, "10.0.0.2")

	policy := core.LBConfig{Type: core.LeastSessions}
	counter := fakeCounter{counts: map[string]int{"10.0.0.1": 5, "10.0.0.2": 1}}

	binding, err := Select([]core.Candidate{a, b}, podSpec, core.SelectRequest{}, policy, counter)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if binding.Host != "10.0.0.2" {
		t.Errorf("got host %q, want 10.0.0.2", binding.Host)
	}
}

func TestSelect_AnnotationSelector(t *testing.T) {
	a := podCandidate("a", nil, "10.0.0.1")
	a.Object.SetAnnotations(map[string]string{"region": "us"})
	b := podCandidate("b", nil, "10.0.0.2")
	b.Object.SetAnnotations(map[string]string{"region": "eu"})

	req := core.SelectRequest{AnnotationSelector: map[string]string{"region": "eu"}}
	policy := core.LBConfig{Type: core.LeastSessions}
	counter := fakeCounter{counts: map[string]int{}}

	binding, err := Select([]core.Candidate{a, b}, podSpec, req, policy, counter)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if binding.Host != "10.0.0.2" {
		t.Errorf("got host %q, want 10.0.0.2", binding.Host)
	}
}

func TestSelect_StatusPredicate_MissingValueRejects(t *testing.T) {
	a := podCandidate("a", nil, "10.0.0.1") // no status.phase field

	req := core.SelectRequest{StatusQuery: &core.StatusQuery{JSONPath: "{.status.phase}", ExpectedValues: []string{"Running"}}}
	policy := core.LBConfig{Type: core.LeastSessions}
	counter := fakeCounter{counts: map[string]int{}}

	_, err := Select([]core.Candidate{a}, podSpec, req, policy, counter)
	if _, ok := err.(*core.ErrNoMatch); !ok {
		t.Fatalf("got %v, want ErrNoMatch", err)
	}
}

func TestSelect_NoCandidates(t *testing.T) {
	policy := core.LBConfig{Type: core.LeastSessions}
	counter := fakeCounter{counts: map[string]int{}}

	_, err := Select(nil, podSpec, core.SelectRequest{}, policy, counter)
	if _, ok := err.(*core.ErrNoMatch); !ok {
		t.Fatalf("got %v, want ErrNoMatch", err)
	}
}
