package bridge

import (
	"testing"
	"time"
)

func TestFingerprintStableAcrossDeliveries(t *testing.T) {
	a := testEvent("p1")
	b := testEvent("p1")
	// Redelivery arrives later but carries the same content and location.
	b.ArrivedAt = b.ArrivedAt.Add(5 * time.Second)
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("arrival time must not change the fingerprint")
	}
}

func TestFingerprintDiscriminates(t *testing.T) {
	base := testEvent("p1")

	other := base
	other.PostID = "p2"
	if base.Fingerprint() == other.Fingerprint() {
		t.Fatal("different post ids must not collide")
	}

	other = base
	other.ChannelID = "chan2"
	if base.Fingerprint() == other.Fingerprint() {
		t.Fatal("different channels must not collide")
	}

	other = base
	other.Text = "a different complaint"
	if base.Fingerprint() == other.Fingerprint() {
		t.Fatal("different texts must not collide")
	}
}

func TestFingerprintSeparatorPreventsSmearing(t *testing.T) {
	a := Event{Text: "ab", ChannelID: "c", PostID: "p"}
	b := Event{Text: "a", ChannelID: "bc", PostID: "p"}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("field boundaries must be part of the hash")
	}
}
