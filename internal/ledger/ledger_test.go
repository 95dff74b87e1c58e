package ledger

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/erpdb/internal/records"
	"github.com/mesh-intelligence/erpdb/internal/taxonomy"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

const taxonomyDoc = `[
  {"category": "Passive", "subcategories": [{"name": "Resistors", "sub_subcategories": [{"name": "SMD"}, {"name": "THT"}]}]},
  {"category": "Active", "subcategories": [{"name": "ICs", "sub_subcategories": [{"name": "MCU"}]}]}
]`

const databaseDoc = `[
  {"Category": "Passive", "Subcategory": "Resistors", "Sub-subcategory": "SMD", "ERP Name": {"full_name": "RES_0603_10k"}, "Image": "", "Manufacturer": "Yageo", "REMARK": ""},
  {"Category": "Active", "Subcategory": "ICs", "Sub-subcategory": "MCU", "ERP Name": {"full_name": "MCU_STM32"}, "Image": "Images/mcu.jpg", "Manufacturer": "ST"}
]`

var (
	pathSMD = types.NewPath("Passive", "Resistors", "SMD")
	pathTHT = types.NewPath("Passive", "Resistors", "THT")
	pathMCU = types.NewPath("Active", "ICs", "MCU")
)

func setup(t *testing.T) (*Ledger, *records.Store, string, string) {
	t.Helper()
	h, err := taxonomy.Load(strings.NewReader(taxonomyDoc))
	require.NoError(t, err)
	s, err := records.Load(strings.NewReader(databaseDoc))
	require.NoError(t, err)
	return New(s, h), s, s.All()[0].ID, s.All()[1].ID
}

func TestEmptyLedgerIsClean(t *testing.T) {
	l, _, _, _ := setup(t)
	assert.False(t, l.IsDirty())
	assert.Empty(t, l.Entries())
}

func TestResolvedValuePriority(t *testing.T) {
	l, _, res, _ := setup(t)

	assert.Equal(t, "Yageo", l.ResolvedText(res, "Manufacturer"))
	assert.Equal(t, json.RawMessage(`""`), mustResolve(t, l, res, "Unknown Column"), "default is empty")

	require.NoError(t, l.StageFieldUpdate(res, "Manufacturer", "Vishay"))
	assert.Equal(t, "Vishay", l.ResolvedText(res, "Manufacturer"))
	assert.True(t, l.IsDirty())

	_, err := l.ResolvedValue("ghost", "Manufacturer")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func mustResolve(t *testing.T, l *Ledger, id, field string) json.RawMessage {
	t.Helper()
	v, err := l.ResolvedValue(id, field)
	require.NoError(t, err)
	return v
}

func TestDiscardRestoresPersistedValue(t *testing.T) {
	l, s, res, mcu := setup(t)

	sequences := [][]func() error{
		{
			func() error { return l.StageFieldUpdate(res, "Manufacturer", "A") },
			func() error { return l.StageFieldUpdate(res, "Manufacturer", "B") },
		},
		{
			func() error { return l.StageReassignment(res, pathMCU) },
			func() error { return l.StageImage(res, "Images/new.png") },
			func() error { return l.StageFieldUpdate(res, "REMARK", "checked") },
		},
		{
			func() error { return l.StageFieldUpdate(res, "New Column", 3) },
			func() error { return l.StageDeletion(res) },
		},
	}
	for i, seq := range sequences {
		for _, stage := range seq {
			require.NoError(t, stage(), "sequence %d", i)
		}
		l.Discard(res)

		persisted, err := s.Get(res)
		require.NoError(t, err)
		for _, col := range append(s.AllColumns(), "New Column") {
			want, ok := persisted.Raw(col)
			if !ok {
				want = json.RawMessage(`""`)
			}
			assert.Equal(t, want, mustResolve(t, l, res, col), "sequence %d column %s", i, col)
		}
		assert.False(t, l.IsDeleted(res))
	}
	assert.False(t, l.IsDirty())
	assert.Equal(t, "ST", l.ResolvedText(mcu, "Manufacturer"))
}

func TestFieldUpdatesCompose(t *testing.T) {
	l, _, res, _ := setup(t)

	require.NoError(t, l.StageFieldUpdate(res, "Manufacturer", "Vishay"))
	require.NoError(t, l.StageFieldUpdate(res, "REMARK", "obsolete"))
	require.NoError(t, l.StageReassignment(res, pathTHT))

	assert.Equal(t, "Vishay", l.ResolvedText(res, "Manufacturer"))
	assert.Equal(t, "obsolete", l.ResolvedText(res, "REMARK"))
	assert.Equal(t, "THT", l.ResolvedText(res, types.ColumnSubSubcategory))
	assert.Equal(t, 3, l.Len())

	rec, err := l.ResolvedRecord(res)
	require.NoError(t, err)
	assert.Equal(t, pathTHT, rec.Path())
	assert.Equal(t, "Vishay", rec.Text("Manufacturer"))

	require.NoError(t, l.StageFieldUpdate(res, "Manufacturer", "Bourns"))
	assert.Equal(t, 3, l.Len(), "restaging replaces the live entry")
	assert.Equal(t, "Manufacturer", l.Entries()[0].Field, "and keeps its position")

	l.DiscardField(res, "Manufacturer")
	assert.Equal(t, "Yageo", l.ResolvedText(res, "Manufacturer"))
	assert.Equal(t, "obsolete", l.ResolvedText(res, "REMARK"))

	l.DiscardField(res, types.ColumnCategory)
	p, err := l.ResolvedPath(res)
	require.NoError(t, err)
	assert.Equal(t, pathSMD, p)
}

func TestStagingPersistedValueClearsEntry(t *testing.T) {
	l, _, res, mcu := setup(t)

	require.NoError(t, l.StageFieldUpdate(res, "Manufacturer", "X"))
	require.NoError(t, l.StageFieldUpdate(res, "Manufacturer", "Yageo"))
	assert.False(t, l.IsDirty())

	require.NoError(t, l.StageReassignment(res, pathSMD))
	assert.False(t, l.IsDirty())

	require.NoError(t, l.StageImage(mcu, "Images/mcu.jpg"))
	assert.False(t, l.IsDirty())
}

func TestValidationLeavesLedgerUnchanged(t *testing.T) {
	l, _, res, _ := setup(t)
	require.NoError(t, l.StageFieldUpdate(res, "REMARK", "kept"))
	before := l.Entries()

	tests := []struct {
		name  string
		stage func() error
		want  error
	}{
		{"unknown identity", func() error { return l.StageFieldUpdate("ghost", "REMARK", "x") }, types.ErrNotFound},
		{"unknown path", func() error { return l.StageReassignment(res, types.NewPath("Passive", "Resistors", "Chip")) }, types.ErrUnknownPath},
		{"partial path", func() error { return l.StageReassignment(res, types.NewPath("Passive", "Resistors", "")) }, types.ErrUnknownPath},
		{"delimiter in value", func() error { return l.StageFieldUpdate(res, "REMARK", "a"+types.Delimiter+"b") }, types.ErrReservedDelimiter},
		{"delimiter in path", func() error { return l.StageReassignment(res, types.NewPath("P"+types.Delimiter, "R", "S")) }, types.ErrReservedDelimiter},
		{"empty field", func() error { return l.StageFieldUpdate(res, " ", "x") }, types.ErrInvalidField},
		{"path column", func() error { return l.StageFieldUpdate(res, types.ColumnCategory, "Active") }, types.ErrInvalidField},
		{"delete unknown", func() error { return l.StageDeletion("ghost") }, types.ErrNotFound},
		{"creation at unknown path", func() error {
			d, err := types.NewDraft(types.NewPath("Nope", "Nope", "Nope"), types.ERPName{}, nil)
			require.NoError(t, err)
			_, err = l.StageCreation(d)
			return err
		}, types.ErrUnknownPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.stage()
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrValidation)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, l.Entries())
		})
	}
}

func TestDeletionSuppressesOtherEntries(t *testing.T) {
	l, _, res, _ := setup(t)
	require.NoError(t, l.StageFieldUpdate(res, "REMARK", "x"))
	require.NoError(t, l.StageDeletion(res))

	assert.True(t, l.IsDeleted(res))
	entries := l.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, types.KindDeletion, entries[0].Kind)

	err := l.StageFieldUpdate(res, "REMARK", "y")
	assert.ErrorIs(t, err, types.ErrDeleted)
	require.NoError(t, l.StageDeletion(res), "deleting twice is a no-op")
	assert.Equal(t, 1, l.Len())
}

func TestCreationLifecycle(t *testing.T) {
	l, s, _, _ := setup(t)

	draft, err := types.NewDraft(types.CategoryPath{}, types.ParseERPName("CAP_0402"), nil)
	require.NoError(t, err)
	id, err := l.StageCreation(draft)
	require.NoError(t, err)
	assert.True(t, l.IsCreation(id))
	assert.False(t, s.Has(id), "store is never mutated")

	require.NoError(t, l.StageFieldUpdate(id, "Manufacturer", "Murata"))
	require.NoError(t, l.StageReassignment(id, pathSMD))
	require.NoError(t, l.StageImage(id, "Images/cap.jpg"))
	assert.Equal(t, 1, l.Len(), "edits to a draft update the draft")

	p, err := l.ResolvedPath(id)
	require.NoError(t, err)
	assert.Equal(t, pathSMD, p)
	assert.Equal(t, "Murata", l.ResolvedText(id, "Manufacturer"))
	assert.Equal(t, "Images/cap.jpg", l.ResolvedText(id, types.ColumnImage))
	assert.Len(t, l.Creations(), 1)

	entries := l.Entries()
	entries[0].Record.SetRaw("Manufacturer", json.RawMessage(`"mutated"`))
	assert.Equal(t, "Murata", l.ResolvedText(id, "Manufacturer"), "entries are copies")

	require.NoError(t, l.StageDeletion(id))
	assert.False(t, l.IsDirty())
	assert.False(t, l.IsCreation(id))
}

func TestReplayRestoresEntries(t *testing.T) {
	l, s, res, mcu := setup(t)
	draft, err := types.NewDraft(pathTHT, types.ParseERPName("RES_TH_1k"), nil)
	require.NoError(t, err)
	id, err := l.StageCreation(draft)
	require.NoError(t, err)
	require.NoError(t, l.StageFieldUpdate(res, "Manufacturer", "Vishay"))
	require.NoError(t, l.StageReassignment(res, pathTHT))
	require.NoError(t, l.StageImage(res, "Images/r.png"))
	require.NoError(t, l.StageDeletion(mcu))

	data, err := json.Marshal(l.Entries())
	require.NoError(t, err)
	var decoded []types.Entry
	require.NoError(t, json.Unmarshal(data, &decoded))

	h, err := taxonomy.Load(strings.NewReader(taxonomyDoc))
	require.NoError(t, err)
	fresh := New(s, h)
	require.NoError(t, fresh.Replay(decoded))

	assert.Equal(t, l.Len(), fresh.Len())
	assert.True(t, fresh.IsCreation(id))
	assert.True(t, fresh.IsDeleted(mcu))
	assert.Equal(t, "Vishay", fresh.ResolvedText(res, "Manufacturer"))
	assert.Equal(t, "Images/r.png", fresh.ResolvedText(res, types.ColumnImage))
	assert.Equal(t, "RES_TH_1k", fresh.ResolvedText(id, types.ColumnERPName))

	bad := []types.Entry{{Identity: "ghost", Kind: types.KindDeletion}}
	assert.ErrorIs(t, New(s, h).Replay(bad), types.ErrValidation)
}

func TestObserverAndClear(t *testing.T) {
	l, _, res, _ := setup(t)
	var events []Event
	l.Observe(func(ev Event) { events = append(events, ev) })

	require.NoError(t, l.StageFieldUpdate(res, "REMARK", "x"))
	l.Discard(res)
	require.NoError(t, l.StageDeletion(res))
	l.Clear()
	l.Clear()

	require.Len(t, events, 4)
	assert.Equal(t, Event{Op: OpStage, Identity: res, Kind: types.KindFieldUpdate, Field: "REMARK"}, events[0])
	assert.Equal(t, OpDiscard, events[1].Op)
	assert.Equal(t, types.KindDeletion, events[2].Kind)
	assert.Equal(t, OpClear, events[3].Op)
	assert.False(t, l.IsDirty())
}
