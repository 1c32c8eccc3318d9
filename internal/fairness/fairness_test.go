package fairness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeSeedDeterministic(t *testing.T) {
	a := MakeSeed("secret", "room-1", 1700000000000)
	b := MakeSeed("secret", "room-1", 1700000000000)
	require.Equal(t, a, b)
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, MakeSeed("other", "room-1", 1700000000000), "secret must change the seed")
	assert.NotEqual(t, a, MakeSeed("secret", "room-2", 1700000000000))
	assert.NotEqual(t, a, MakeSeed("secret", "room-1", 1700000000001))
}

func TestVerifySeed(t *testing.T) {
	seed := MakeSeed("secret", "room", 42)
	assert.True(t, VerifySeed("secret", "room", 42, seed))
	assert.False(t, VerifySeed("secret", "room", 43, seed))
	assert.False(t, VerifySeed("secret", "room", 42, "not-a-seed"))
}

func TestStreamRepeatable(t *testing.T) {
	s1 := NewStream("abc")
	s2 := NewStream("abc")
	for i := 0; i < 1000; i++ {
		v := s1.Next()
		require.Equal(t, v, s2.Next())
		require.GreaterOrEqual(t, v, 0.0)
		require.Less(t, v, 1.0)
	}
	assert.EqualValues(t, 1000, s1.Draws())
}

func TestStreamMalformedSeedStillDeterministic(t *testing.T) {
	s1 := NewStream("%%%")
	s2 := NewStream("%%%")
	assert.Equal(t, s1.Next(), s2.Next())
	assert.NotEqual(t, NewStream("%%%").Next(), NewStream("abc").Next())
}

func TestIntBounds(t *testing.T) {
	s := NewStream("bounds")
	seen := map[int]bool{}
	for i := 0; i < 2000; i++ {
		v := s.Int(3, 7)
		require.GreaterOrEqual(t, v, 3)
		require.LessOrEqual(t, v, 7)
		seen[v] = true
	}
	assert.Len(t, seen, 5)
	assert.Equal(t, 5, NewStream("x").Int(5, 5))
}

func TestShuffleIsPermutation(t *testing.T) {
	in := []string{"a", "b", "c", "d", "e", "f"}
	out := Shuffle(NewStream("shuffle"), in)
	assert.ElementsMatch(t, in, out)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, in, "input must not be mutated")
	assert.Equal(t, out, Shuffle(NewStream("shuffle"), in))
}

func TestChoice(t *testing.T) {
	list := []int{10, 20, 30}
	assert.Equal(t, Choice(NewStream("c"), list), Choice(NewStream("c"), list))
	assert.Contains(t, list, Choice(NewStream("c"), list))
}

func TestRevealRoundTrip(t *testing.T) {
	roomSecret := DeriveRoomSecret("master", "room-9")
	require.Equal(t, roomSecret, DeriveRoomSecret("master", "room-9"))
	assert.NotEqual(t, roomSecret, DeriveRoomSecret("master", "room-10"))

	seed := CombineClientSeed(MakeSeed(roomSecret, "room-9", 99), "lucky")
	r := Reveal{
		Commitment: Commitment(roomSecret),
		RoomSecret: roomSecret,
		RoomID:     "room-9",
		Timestamp:  99,
		ClientSeed: "lucky",
		Seed:       seed,
	}
	assert.True(t, VerifyReveal(r))

	tampered := r
	tampered.Seed = MakeSeed(roomSecret, "room-9", 99)
	assert.False(t, VerifyReveal(tampered), "dropping the client seed must be detected")

	forged := r
	forged.RoomSecret = "forged"
	assert.False(t, VerifyReveal(forged))
}

func TestCombineClientSeedEmpty(t *testing.T) {
	assert.Equal(t, "server", CombineClientSeed("server", ""))
}
