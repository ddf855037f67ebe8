package pubsub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigTopic(t *testing.T) {
	cfg := Config{Namespace: "pioreactor", Unit: "unit1", Experiment: "exp1", JobName: "stirring"}
	require.Equal(t, "pioreactor/unit1/exp1/stirring/$state", cfg.topic().State())
}

func TestWrapIgnoresRetained(t *testing.T) {
	b := &Bus{}
	var calls int
	h := b.wrap(func(topic string, payload []byte, retained bool) { calls++ }, true)

	h("t", nil, true)
	require.Equal(t, 0, calls)

	h("t", nil, false)
	require.Equal(t, 1, calls)
}

func TestWrapPassesRetainedWhenNotIgnoring(t *testing.T) {
	b := &Bus{}
	var calls int
	h := b.wrap(func(topic string, payload []byte, retained bool) { calls++ }, false)

	h("t", nil, true)
	h("t", nil, false)
	require.Equal(t, 2, calls)
}
