package fusion

import (
	"testing"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/user"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/protocol"
)

func TestVocabularyIsTotalAndDeterministic(t *testing.T) {
	for _, role := range []user.Role{user.Kid, user.Teacher} {
		vocab := VocabularyFor(role)
		labels := vocab.Labels()
		if len(labels) != 6 {
			t.Fatalf("%s: expected 6 labels, got %v", role, labels)
		}
		for class, label := range labels {
			entry, ok := vocab.Lookup(class)
			if !ok || entry.Label != label {
				t.Fatalf("%s: class %d resolved to %+v", role, class, entry)
			}
			kind, ok := vocab.KindOf(label)
			if !ok || kind != entry.Kind {
				t.Fatalf("%s: label %s maps to %s, entry says %s", role, label, kind, entry.Kind)
			}
			again, _ := VocabularyFor(role).KindOf(label)
			if again != kind {
				t.Fatalf("%s: label %s not deterministic", role, label)
			}
			if !protocol.IsSensor(kind) {
				t.Fatalf("%s: %s must be a sensor kind", role, kind)
			}
		}
	}
}

func TestKidVocabularyBuckets(t *testing.T) {
	vocab := VocabularyFor(user.Kid)
	want := map[string]protocol.Kind{
		"Rotate":   protocol.KindGesture,
		"Select":   protocol.KindGesture,
		"Back":     protocol.KindGesture,
		"Home":     protocol.KindHabitat,
		"Farm":     protocol.KindHabitat,
		"WildLife": protocol.KindHabitat,
	}
	for label, kind := range want {
		if got, _ := vocab.KindOf(label); got != kind {
			t.Errorf("%s: got %s, want %s", label, got, kind)
		}
	}
	if _, ok := vocab.KindOf("HappyKids"); ok {
		t.Fatal("teacher labels must not leak into the kid vocabulary")
	}
}

func TestTeacherVocabularyIsReportTypes(t *testing.T) {
	vocab := VocabularyFor(user.Teacher)
	entry, ok := vocab.Lookup(5)
	if !ok || entry.Label != "SurpriseStudents" || entry.Kind != protocol.KindReportType {
		t.Fatalf("unexpected class 5: %+v", entry)
	}
	if _, ok := vocab.Lookup(6); ok {
		t.Fatal("class 6 must be out of range")
	}
	if _, ok := vocab.Lookup(-1); ok {
		t.Fatal("negative class must be out of range")
	}
}

func TestUnknownRoleHasNoGestures(t *testing.T) {
	vocab := VocabularyFor(user.Unknown)
	if len(vocab.Labels()) != 0 {
		t.Fatalf("expected empty vocabulary, got %v", vocab.Labels())
	}
	if _, ok := vocab.Lookup(0); ok {
		t.Fatal("expected lookup miss")
	}
}
