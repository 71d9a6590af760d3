package supervisor

import (
	"bytes"
	"testing"

	"github.com/switchyard-dev/switchyard/internal/agent"
	"github.com/switchyard-dev/switchyard/internal/models"
)

func TestUsageTotals_Delta(t *testing.T) {
	var u usageTotals
	u.add(100, 40)
	u.setModel("claude-sonnet-4-5")

	in, out, model := u.delta()
	if in != 100 || out != 40 || model != "claude-sonnet-4-5" {
		t.Errorf("delta = %d/%d/%s", in, out, model)
	}

	// Nothing new: delta drains to zero.
	in, out, _ = u.delta()
	if in != 0 || out != 0 {
		t.Errorf("second delta = %d/%d, want 0/0", in, out)
	}

	u.add(10, 5)
	in, out, _ = u.delta()
	if in != 10 || out != 5 {
		t.Errorf("third delta = %d/%d, want 10/5", in, out)
	}
}

func TestPersistSample_WritesRowAndCounters(t *testing.T) {
	db := testDB(t)
	s := testSupervisor(t, db, &stubKind{name: "stub"})

	if err := db.Create(&models.AgentInstance{
		ID: "inst-1", SessionID: "s-1", Kind: "stub", Status: models.InstanceRunning,
	}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	p := &process{instanceID: "inst-1", sessionID: "s-1"}
	p.usage.add(500, 120)
	p.usage.setModel("claude-sonnet-4-5")

	if err := s.persistSample(p); err != nil {
		t.Fatalf("persistSample: %v", err)
	}

	var sample models.UsageSample
	if err := db.Where("instance_id = ?", "inst-1").First(&sample).Error; err != nil {
		t.Fatalf("sample row: %v", err)
	}
	if sample.InputTokens != 500 || sample.OutputTokens != 120 {
		t.Errorf("sample = %+v", sample)
	}

	var inst models.AgentInstance
	db.Where("id = ?", "inst-1").First(&inst)
	if inst.InputTokens != 500 || inst.OutputTokens != 120 {
		t.Errorf("instance counters = %d/%d", inst.InputTokens, inst.OutputTokens)
	}

	gin, gout := s.Totals()
	if gin != 500 || gout != 120 {
		t.Errorf("global totals = %d/%d", gin, gout)
	}

	// A second pass with no new tokens writes nothing.
	if err := s.persistSample(p); err != nil {
		t.Fatalf("second persistSample: %v", err)
	}
	var count int64
	db.Model(&models.UsageSample{}).Count(&count)
	if count != 1 {
		t.Errorf("sample count = %d, want 1", count)
	}
}

func TestCollectUsage_NoLiveProcess(t *testing.T) {
	db := testDB(t)
	s := testSupervisor(t, db, &stubKind{name: "stub"})
	if err := s.CollectUsage("inst-gone"); err == nil {
		t.Error("expected error for unknown instance")
	}
}

func TestScanUsage_PartialLines(t *testing.T) {
	parsed := &stubParsingKind{}
	p := &process{instanceID: "inst-1", sessionID: "s-1", kind: parsed}

	// A usage line split across two chunks must still parse once complete.
	p.scanUsage([]byte(`{"type":"assistant",`))
	in, out := p.usage.snapshot()
	if in != 0 || out != 0 {
		t.Fatalf("premature parse: %d/%d", in, out)
	}

	p.scanUsage([]byte("\"tokens\":[7,3]}\n"))
	in, out = p.usage.snapshot()
	if in != 7 || out != 3 {
		t.Errorf("usage = %d/%d, want 7/3", in, out)
	}
}

// stubParsingKind treats any complete line containing "tokens" as 7 in / 3 out.
type stubParsingKind struct{ stubKind }

func (k *stubParsingKind) ParseUsage(line []byte) (agent.Usage, bool) {
	if !bytes.Contains(line, []byte("tokens")) {
		return agent.Usage{}, false
	}
	return agent.Usage{InputTokens: 7, OutputTokens: 3}, true
}
