package transform

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/listsync/internal/model"
)

func TestTransform_IdenticalCancelsLocal(t *testing.T) {
	op := add("c1", "o1", "A", 1)
	res := Transform(op, op.Clone())

	assert.True(t, res.Cancelled)
	assert.Equal(t, ReasonDuplicate, res.Reason)
}

func TestTransform_SameIdDifferentClientIsNotDuplicate(t *testing.T) {
	res := Transform(add("c1", "o1", "A", 1), add("c2", "o1", "B", 1))
	assert.False(t, res.Cancelled)
	assert.False(t, res.Changed())
}

func TestTransform_AddAddSameItemMerges(t *testing.T) {
	local := add("c1", "o1", "X", 2)
	remote := add("c2", "o9", "X", 3)

	res := Transform(local, remote)

	require.False(t, res.Cancelled)
	assert.True(t, res.DropRemote)
	assert.True(t, res.Absorbed)
	assert.Equal(t, int64(5), res.Op.Quantity())
	assert.Equal(t, int64(2), local.Quantity(), "local must not be mutated")
}

func TestTransform_AddAddPositions(t *testing.T) {
	tests := []struct {
		name      string
		local     model.Operation
		remote    model.Operation
		wantPos   int64
		wantShift bool
	}{
		{"remote before local shifts", addAt("c1", "o1", "A", 1, 2), addAt("c2", "o2", "B", 1, 1), 3, true},
		{"remote at same index shifts", addAt("c1", "o1", "A", 1, 2), addAt("c2", "o2", "B", 1, 2), 3, true},
		{"remote after local keeps", addAt("c1", "o1", "A", 1, 2), addAt("c2", "o2", "B", 1, 3), 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Transform(tt.local, tt.remote)
			pos, ok := res.Op.Position()
			require.True(t, ok)
			assert.Equal(t, tt.wantPos, pos)
			assert.Equal(t, tt.wantShift, res.Reason == ReasonShiftedPosition)
			assert.False(t, res.DropRemote)
		})
	}
}

func TestTransform_AddAddOnlyOnePositioned(t *testing.T) {
	res := Transform(addAt("c1", "o1", "A", 1, 0), add("c2", "o2", "B", 1))
	pos, _ := res.Op.Position()
	assert.Equal(t, int64(0), pos)
	assert.False(t, res.Changed())
}

func TestTransform_RemoveAgainstUpdateKeepsRemove(t *testing.T) {
	res := Transform(remove("c1", "o1", "X"), setQty("c2", "o2", "X", 7, 0))
	assert.False(t, res.Cancelled)
	assert.True(t, res.DropRemote)
	assert.Equal(t, model.OpRemoveItem, res.Op.Type)
}

func TestTransform_UpdateAgainstRemoveCancels(t *testing.T) {
	res := Transform(setQty("c1", "o1", "X", 7, 0), remove("c2", "o2", "X"))
	assert.True(t, res.Cancelled)
	assert.Equal(t, ReasonRemoveWins, res.Reason)
}

func TestTransform_UpdateUpdate(t *testing.T) {
	tests := []struct {
		name       string
		local      model.Operation
		remote     model.Operation
		wantCancel bool
	}{
		{"later local wins", setQty("c1", "o1", "X", 2, 200), setQty("c2", "o2", "X", 5, 100), false},
		{"earlier local loses", setQty("c1", "o1", "X", 2, 100), setQty("c2", "o2", "X", 5, 200), true},
		{"tie: greater operationId wins", setQty("c1", "o2", "X", 2, 100), setQty("c2", "o1", "X", 5, 100), false},
		{"tie: smaller operationId loses", setQty("c1", "o1", "X", 2, 100), setQty("c2", "o2", "X", 5, 100), true},
		{"tie on id: greater clientId wins", setQty("c2", "o1", "X", 2, 100), setQty("c1", "o1", "X", 5, 100), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Transform(tt.local, tt.remote)
			assert.Equal(t, tt.wantCancel, res.Cancelled)
			assert.Equal(t, !tt.wantCancel, res.DropRemote)
		})
	}
}

func TestTransform_TieBreakIsAntisymmetric(t *testing.T) {
	a := setQty("c1", "o-a", "X", 2, 100)
	b := setQty("c2", "o-b", "X", 5, 100)

	ab := Transform(a, b)
	ba := Transform(b, a)
	assert.NotEqual(t, ab.Cancelled, ba.Cancelled, "exactly one side must win")
}

func TestTransform_UnrelatedPairsPassThrough(t *testing.T) {
	pairs := [][2]model.Operation{
		{add("c1", "o1", "A", 1), remove("c2", "o2", "A")},
		{remove("c1", "o1", "A"), add("c2", "o2", "A", 1)},
		{setQty("c1", "o1", "A", 3, 0), setQty("c2", "o2", "B", 3, 0)},
		{rename("c1", "o1", "x", 1), rename("c2", "o2", "y", 2)},
		{remove("c1", "o1", "A"), remove("c2", "o2", "A")},
	}
	for _, p := range pairs {
		res := Transform(p[0], p[1])
		assert.False(t, res.Changed(), "%s vs %s", p[0].Type, p[1].Type)
		assert.Equal(t, p[0], res.Op)
	}
}

// Property: ADD(X,2) concurrent with ADD(X,3) on an empty list converges to {X:5}.
func TestProperty_MergeCorrectness(t *testing.T) {
	empty := model.NewListState("L1", "T")
	a := add("c1", "o1", "X", 2)
	b := add("c2", "o2", "X", 3)

	// b applied first, a arrives concurrently: apply merges on add.
	s1, err := Fold(empty, b, a)
	require.NoError(t, err)
	assert.Equal(t, products("X", 5), s1.Products)

	// Neither applied yet: the transform absorbs b into a, b is dropped.
	res := Transform(a, b)
	require.True(t, res.DropRemote)
	s2, err := Apply(empty, res.Op)
	require.NoError(t, err)
	assert.Equal(t, products("X", 5), s2.Products)
}

// Property: REMOVE(X) concurrent with UPDATE_QUANTITY(X,7) leaves X absent in either order.
func TestProperty_RemoveWins(t *testing.T) {
	start := model.NewListState("L1", "T")
	start.Products = products("X", 1, "Y", 1)
	rm := remove("c1", "o1", "X")
	up := setQty("c2", "o2", "X", 7, 0)

	// Update accepted first, remove transformed against it.
	s, err := Apply(start, up)
	require.NoError(t, err)
	res := Transform(rm, up)
	require.False(t, res.Cancelled)
	s, err = Apply(s, res.Op)
	require.NoError(t, err)
	assert.Equal(t, -1, s.IndexOf("X"))

	// Remove accepted first, update transformed against it.
	s, err = Apply(start, rm)
	require.NoError(t, err)
	res = Transform(up, rm)
	assert.True(t, res.Cancelled)
	assert.Equal(t, -1, s.IndexOf("X"))
}

// Property: non-conflicting operations converge to the same product set in any order.
func TestProperty_Convergence(t *testing.T) {
	start := model.NewListState("L1", "T")
	start.Products = products("Z", 2)
	ops := []model.Operation{
		add("c1", "o1", "A", 1),
		add("c2", "o2", "B", 2),
		setQty("c3", "o3", "Z", 4, 0),
		add("c1", "o4", "C", 3),
		remove("c2", "o5", "Q"),
	}

	var want []model.Product
	for i, perm := range permutations(ops) {
		got, err := Fold(start, perm...)
		require.NoError(t, err)
		set := sortedProducts(got.Products)
		if i == 0 {
			want = set
			continue
		}
		assert.Equal(t, want, set, "permutation %d diverged", i)
	}
	assert.Equal(t, products("A", 1, "B", 2, "C", 3, "Z", 4), want)
}

// Property: two concurrent positioned inserts at the same index never collide.
func TestProperty_PositionShift(t *testing.T) {
	start := model.NewListState("L1", "T")
	start.Products = products("A", 1, "B", 1)
	x := addAt("c1", "o1", "X", 1, 1)
	y := addAt("c2", "o2", "Y", 1, 1)

	s, err := Apply(start, x)
	require.NoError(t, err)
	s, err = Apply(s, Transform(y, x).Op)
	require.NoError(t, err)

	assert.Equal(t, products("A", 1, "X", 1, "Y", 1, "B", 1), s.Products)
}

// Property: the later-timestamped title wins regardless of arrival order.
func TestProperty_TitleRace(t *testing.T) {
	start := model.NewListState("L1", "T")
	early := rename("c1", "o1", "Early", 100)
	late := rename("c2", "o2", "Late", 200)

	ordered := []model.Operation{early, late}
	sort.SliceStable(ordered, func(i, j int) bool { return !Wins(ordered[i], ordered[j]) })
	s, err := Fold(start, ordered...)
	require.NoError(t, err)
	assert.Equal(t, "Late", s.Title)
}

func permutations(ops []model.Operation) [][]model.Operation {
	if len(ops) <= 1 {
		return [][]model.Operation{append([]model.Operation(nil), ops...)}
	}
	var out [][]model.Operation
	for i := range ops {
		rest := make([]model.Operation, 0, len(ops)-1)
		rest = append(rest, ops[:i]...)
		rest = append(rest, ops[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]model.Operation{ops[i]}, p...))
		}
	}
	return out
}

func sortedProducts(ps []model.Product) []model.Product {
	out := append([]model.Product(nil), ps...)
	sort.Slice(out, func(i, j int) bool { return out[i].ProductRef < out[j].ProductRef })
	return out
}
