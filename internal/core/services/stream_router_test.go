package services

import (
	"testing"

	"roomcast/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func slotOf(r *StreamRouter, role domain.StreamRole) string {
	id, _ := r.Slot(role)
	return id
}

func TestStreamRouter_MetadataMatch(t *testing.T) {
	tests := []struct {
		name         string
		metaFirst    bool
		arrivalOrder []string
	}{
		{name: "metadata before streams", metaFirst: true, arrivalOrder: []string{"cam", "scr"}},
		{name: "streams before metadata", metaFirst: false, arrivalOrder: []string{"cam", "scr"}},
		{name: "screen arrives first", metaFirst: false, arrivalOrder: []string{"scr", "cam"}},
	}

	meta := domain.StreamMetadata{ScreenStreamID: "scr", CameraStreamID: "cam"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewStreamRouter()
			if tt.metaFirst {
				router.ApplyMetadata(meta)
			}
			for _, id := range tt.arrivalOrder {
				router.AddStream(id)
			}
			if !tt.metaFirst {
				router.ApplyMetadata(meta)
			}

			assert.Equal(t, "scr", slotOf(router, domain.StreamScreen))
			assert.Equal(t, "cam", slotOf(router, domain.StreamCamera))
		})
	}
}

func TestStreamRouter_FallbackPriority(t *testing.T) {
	router := NewStreamRouter()

	router.AddStream("a")
	assert.Equal(t, "a", slotOf(router, domain.StreamScreen))

	router.AddStream("b")
	assert.Equal(t, "b", slotOf(router, domain.StreamCamera))

	role, ok := router.RoleOf("a")
	assert.True(t, ok)
	assert.Equal(t, domain.StreamScreen, role)
}

func TestStreamRouter_SelfCorrectsWhenMetadataArrives(t *testing.T) {
	router := NewStreamRouter()

	// The camera stream wins the screen slot by arriving first.
	router.AddStream("cam")
	router.AddStream("scr")
	assert.Equal(t, "cam", slotOf(router, domain.StreamScreen))

	changed := router.ApplyMetadata(domain.StreamMetadata{ScreenStreamID: "scr", CameraStreamID: "cam"})
	assert.True(t, changed)
	assert.Equal(t, "scr", slotOf(router, domain.StreamScreen))
	assert.Equal(t, "cam", slotOf(router, domain.StreamCamera))
}

func TestStreamRouter_MetadataIsIdempotent(t *testing.T) {
	router := NewStreamRouter()
	router.AddStream("scr")

	var publishes int
	router.Subscribe(func(map[domain.StreamRole]string) { publishes++ })

	meta := domain.StreamMetadata{ScreenStreamID: "scr"}
	router.ApplyMetadata(meta)
	before := router.Slots()

	assert.False(t, router.ApplyMetadata(meta))
	assert.Equal(t, before, router.Slots())
	assert.Equal(t, 0, publishes)
}

func TestStreamRouter_ModeChange(t *testing.T) {
	router := NewStreamRouter()
	router.ApplyMetadata(domain.StreamMetadata{CameraStreamID: "cam"})
	router.AddStream("cam")
	assert.Equal(t, "cam", slotOf(router, domain.StreamCamera))

	// Camera off, screen on: the old link goes away before the new stream arrives.
	router.RemoveStream("cam")
	router.AddStream("scr")
	router.ApplyMetadata(domain.StreamMetadata{ScreenStreamID: "scr"})

	assert.Equal(t, "scr", slotOf(router, domain.StreamScreen))
	_, ok := router.Slot(domain.StreamCamera)
	assert.False(t, ok)
}

func TestStreamRouter_IgnoresDuplicatesAndReset(t *testing.T) {
	router := NewStreamRouter()
	assert.True(t, router.AddStream("a"))
	assert.False(t, router.AddStream("a"))
	assert.False(t, router.AddStream(""))

	router.Reset()
	assert.Empty(t, router.Slots())
	assert.Equal(t, domain.StreamMetadata{}, router.Metadata())
}
