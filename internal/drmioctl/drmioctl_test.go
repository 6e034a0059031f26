package drmioctl

import "testing"

func TestIocEncodingMatchesKnownGetResources(t *testing.T) {
	// struct drm_mode_card_res is 64 bytes; the kernel's published request
	// code for DRM_IOCTL_MODE_GETRESOURCES is 0xc04064a0.
	var res CardRes
	got := iowr(nrGetResources, 64)
	_ = res
	want := uintptr(0xc04064a0)
	if got != want {
		t.Fatalf("iowr(GETRESOURCES) = %#x, want %#x", got, want)
	}
}

func TestReadEventsParsesFlipComplete(t *testing.T) {
	buf := make([]byte, eventHeaderSize+eventVblankSize)
	hostEndian.PutUint32(buf[0:], drmEventFlipComplete)
	hostEndian.PutUint32(buf[4:], uint32(len(buf)))
	body := buf[eventHeaderSize:]
	hostEndian.PutUint32(body[0:], 10)  // sec
	hostEndian.PutUint32(body[4:], 500) // usec
	hostEndian.PutUint32(body[12:], 42) // crtc id
	hostEndian.PutUint32(body[16:], 7)  // user_data low
	hostEndian.PutUint32(body[20:], 0)  // user_data high

	events := ReadEvents(buf)
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.CrtcID != 42 || ev.Sec != 10 || ev.USec != 500 || ev.UserData != 7 {
		t.Fatalf("parsed event = %+v, unexpected", ev)
	}
}

func TestReadEventsSkipsUnknownType(t *testing.T) {
	buf := make([]byte, eventHeaderSize)
	hostEndian.PutUint32(buf[0:], 0xff)
	hostEndian.PutUint32(buf[4:], uint32(len(buf)))
	if got := ReadEvents(buf); len(got) != 0 {
		t.Fatalf("len(events) = %d, want 0 for unknown event type", len(got))
	}
}

func TestUdevEventIsDRMHotplug(t *testing.T) {
	ev := Event{Action: "change", Props: map[string]string{"SUBSYSTEM": "drm", "HOTPLUG": "1"}}
	if !ev.IsDRMHotplug() {
		t.Fatal("expected IsDRMHotplug true")
	}
	other := Event{Props: map[string]string{"SUBSYSTEM": "input"}}
	if other.IsDRMHotplug() {
		t.Fatal("expected IsDRMHotplug false for non-drm subsystem")
	}
}

func TestSplitNUL(t *testing.T) {
	got := splitNUL([]byte("a\x00bb\x00\x00c"))
	want := []string{"a", "bb", "c"}
	if len(got) != len(want) {
		t.Fatalf("splitNUL = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitNUL[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
