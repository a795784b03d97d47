package cache

import (
	"testing"
	"time"
)

func TestProvider_ChannelMembershipLifecycle(t *testing.T) {
	p := NewProvider(nil)
	p.JoinChannel("C1")
	if got := p.Channels(); len(got) != 1 || got[0] != "C1" {
		t.Fatalf("Channels = %v, want [C1]", got)
	}
	p.LeaveChannel("C1")
	if got := p.Channels(); len(got) != 0 {
		t.Fatalf("Channels after leave = %v, want empty", got)
	}
}

func TestProvider_UserExpiryPrunedOnRead(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	p := NewProvider(clock)

	p.PutUser("U1", "alice", now.Add(10*time.Millisecond))
	data, ok := p.UserEntry("U1")
	if !ok || data != "alice" {
		t.Fatalf("UserEntry immediately after Put = %v, %v; want alice, true", data, ok)
	}

	now = now.Add(20 * time.Millisecond)
	_, ok = p.UserEntry("U1")
	if ok {
		t.Fatal("UserEntry after expiry = true, want false")
	}
}

func TestProvider_UsersPrunesExpiredEntries(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	p := NewProvider(clock)

	p.PutUser("expired", "x", now.Add(-time.Second))
	p.PutUser("fresh", "y", now.Add(time.Hour))

	users := p.Users()
	if _, ok := users["expired"]; ok {
		t.Fatal("Users() includes expired entry")
	}
	if data, ok := users["fresh"]; !ok || data != "y" {
		t.Fatalf("Users()[fresh] = %v, %v; want y, true", data, ok)
	}
}

func TestProvider_DropUser(t *testing.T) {
	p := NewProvider(nil)
	p.PutUser("U1", "alice", time.Now().Add(time.Hour))
	p.DropUser("U1")
	if _, ok := p.UserEntry("U1"); ok {
		t.Fatal("UserEntry after DropUser = true, want false")
	}
}

func TestProvider_Metadata(t *testing.T) {
	p := NewProvider(nil)
	p.PutMetadata("channels_by_id", map[string]string{"C1": "general"})
	meta := p.Metadata()
	if _, ok := meta["channels_by_id"]; !ok {
		t.Fatal("Metadata missing channels_by_id key")
	}
}
