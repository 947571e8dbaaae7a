package audio

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestEngineSeesExternallyEstablishedConnection(t *testing.T) {
	s := &discordgo.Session{VoiceConnections: map[string]*discordgo.VoiceConnection{}}
	e := NewDiscordEngine(s, "g1", time.Second)

	assert.False(t, e.Connected())
	assert.Nil(t, e.activeConnection())

	// A connection from a previous lifetime, never joined by this engine,
	// must still be found so Disconnect tears it down.
	vc := &discordgo.VoiceConnection{}
	s.VoiceConnections["g1"] = vc

	assert.True(t, e.Connected())
	assert.Same(t, vc, e.activeConnection())
}
