package settings

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRepo struct {
	values map[string]string
	err    error
	calls  int
}

func (f *fakeRepo) LoadAll(context.Context) (map[string]string, error) {
	f.calls++
	return f.values, f.err
}

func (f *fakeRepo) Set(_ context.Context, key, value string) error {
	f.values[key] = value
	return nil
}

var defaults = Snapshot{
	FreeCredits:               5,
	GenerationCooldownSeconds: 60,
	ReferralSignupBonus:       5,
	ReferralCommissionPercent: 10,
}

func TestSnapshotOverlaysStoredValues(t *testing.T) {
	repo := &fakeRepo{values: map[string]string{
		KeyGenerationCooldownSeconds: "30",
		KeyReferralSignupBonus:       " 8 ",
	}}
	svc := NewService(repo, defaults)

	snap, err := svc.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.GenerationCooldownSeconds != 30 || snap.ReferralSignupBonus != 8 {
		t.Fatalf("stored values not applied: %+v", snap)
	}
	if snap.FreeCredits != 5 || snap.ReferralCommissionPercent != 10 {
		t.Fatalf("defaults not kept: %+v", snap)
	}
	if snap.Cooldown() != 30*time.Second {
		t.Fatalf("unexpected cooldown %s", snap.Cooldown())
	}
}

func TestSnapshotReReadsEveryCall(t *testing.T) {
	repo := &fakeRepo{values: map[string]string{}}
	svc := NewService(repo, defaults)

	first, _ := svc.Snapshot(context.Background())
	_ = repo.Set(context.Background(), KeyFreeCredits, "20")
	second, _ := svc.Snapshot(context.Background())

	if first.FreeCredits != 5 || second.FreeCredits != 20 {
		t.Fatalf("expected 5 then 20, got %d then %d", first.FreeCredits, second.FreeCredits)
	}
	if repo.calls != 2 {
		t.Fatalf("expected 2 reads, got %d", repo.calls)
	}
}

func TestSnapshotIgnoresInvalidValues(t *testing.T) {
	repo := &fakeRepo{values: map[string]string{
		KeyFreeCredits:               "lots",
		KeyReferralCommissionPercent: "150",
		KeyGenerationCooldownSeconds: "-1",
	}}

	snap, err := NewService(repo, defaults).Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap != defaults {
		t.Fatalf("expected defaults, got %+v", snap)
	}
}

func TestSnapshotPropagatesStoreError(t *testing.T) {
	repo := &fakeRepo{err: errors.New("down")}
	if _, err := NewService(repo, defaults).Snapshot(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpdateStoresOverride(t *testing.T) {
	repo := &fakeRepo{values: map[string]string{}}
	svc := NewService(repo, defaults)

	snap, err := svc.Update(context.Background(), KeyReferralCommissionPercent, 25)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if repo.values[KeyReferralCommissionPercent] != "25" || snap.ReferralCommissionPercent != 25 {
		t.Fatalf("override not applied: stored=%q snap=%+v", repo.values[KeyReferralCommissionPercent], snap)
	}
}

func TestUpdateRejectsInvalid(t *testing.T) {
	repo := &fakeRepo{values: map[string]string{}}
	svc := NewService(repo, defaults)

	cases := []struct {
		key   string
		value int
		want  error
	}{
		{"max_uploads", 1, ErrUnknownKey},
		{KeyFreeCredits, -1, ErrInvalidValue},
		{KeyReferralCommissionPercent, 101, ErrInvalidValue},
	}
	for _, tc := range cases {
		if _, err := svc.Update(context.Background(), tc.key, tc.value); !errors.Is(err, tc.want) {
			t.Fatalf("%s=%d: expected %v, got %v", tc.key, tc.value, tc.want, err)
		}
	}
	if len(repo.values) != 0 {
		t.Fatalf("rejected updates must not be stored, got %v", repo.values)
	}
}
