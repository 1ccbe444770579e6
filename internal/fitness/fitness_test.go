package fitness

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"melodist/internal/model"
)

func randomBuffer(rng *rand.Rand, n int) []byte {
	buf := make([]byte, n)
	rng.Read(buf)
	return buf
}

func TestScoreIdentityIsZero(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, depth := range []int{1, 2} {
		buf := randomBuffer(rng, 512)
		got, err := Score(buf, buf, depth)
		if err != nil {
			t.Fatalf("score depth=%d: %v", depth, err)
		}
		if got != 0 {
			t.Fatalf("identity score depth=%d: got=%d want=0", depth, got)
		}
	}
}

func TestScoreIsSymmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for _, depth := range []int{1, 2} {
		a := randomBuffer(rng, 1024)
		b := randomBuffer(rng, 1024)
		ab, err := Score(a, b, depth)
		if err != nil {
			t.Fatalf("score ab: %v", err)
		}
		ba, err := Score(b, a, depth)
		if err != nil {
			t.Fatalf("score ba: %v", err)
		}
		if ab != ba {
			t.Fatalf("asymmetric score depth=%d: %d != %d", depth, ab, ba)
		}
		if ab <= 0 {
			t.Fatalf("expected positive score for distinct random buffers, got %d", ab)
		}
	}
}

func TestScoreLengthMismatch(t *testing.T) {
	_, err := Score(make([]byte, 10), make([]byte, 12), 1)
	if !errors.Is(err, model.ErrFormatMismatch) {
		t.Fatalf("expected format mismatch, got %v", err)
	}
	_, err = Score(make([]byte, 3), make([]byte, 3), 2)
	if !errors.Is(err, model.ErrFormatMismatch) {
		t.Fatalf("expected format mismatch for odd 16-bit buffer, got %v", err)
	}
	_, err = Score(make([]byte, 4), make([]byte, 4), 3)
	if !errors.Is(err, model.ErrFormatMismatch) {
		t.Fatalf("expected format mismatch for unsupported depth, got %v", err)
	}
}

func TestScoreDecodesSamples(t *testing.T) {
	got, err := Score([]byte{0, 128, 255}, []byte{255, 128, 0}, 1)
	if err != nil {
		t.Fatalf("score u8: %v", err)
	}
	if got != 510 {
		t.Fatalf("u8 score: got=%d want=510", got)
	}

	a := make([]byte, 4)
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(a[0:], 0x8000)
	binary.LittleEndian.PutUint16(b[0:], 0x7FFF)
	binary.LittleEndian.PutUint16(a[2:], 0xFFFB)
	binary.LittleEndian.PutUint16(b[2:], 0x0005)
	got, err = Score(a, b, 2)
	if err != nil {
		t.Fatalf("score s16: %v", err)
	}
	if got != 65535+10 {
		t.Fatalf("s16 score: got=%d want=%d", got, 65535+10)
	}
	if got > MaxScore(len(a), 2) {
		t.Fatalf("score %d exceeds max %d", got, MaxScore(len(a), 2))
	}
}
