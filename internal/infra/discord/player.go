package discord

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/jonas747/dca"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/playback"
)

const (
	// Volume is fixed at half of unity (256).
	playbackVolume = 128
	frameTimeout   = time.Second
)

var (
	ErrNoAudio      = errors.New("stream produced no audio")
	ErrVoiceStalled = errors.New("voice connection is not accepting audio")
	ErrDecode       = errors.New("failed to decode stream")
)

// FrameSource yields encoded opus frames; io.EOF marks the end.
type FrameSource interface {
	OpusFrame() ([]byte, error)
	Cleanup()
}

// EncoderFactory starts encoding the audio behind a stream URL.
type EncoderFactory func(url string) (FrameSource, error)

// NewDCAEncoderFactory returns an encoder that runs ffmpeg through dca.
func NewDCAEncoderFactory(bitrateKbps int) EncoderFactory {
	return func(url string) (FrameSource, error) {
		opts := *dca.StdEncodeOptions
		opts.RawOutput = true
		opts.Volume = playbackVolume
		opts.Bitrate = bitrateKbps
		opts.Application = dca.AudioApplicationAudio
		opts.FrameDuration = 20
		opts.BufferedFrames = 100

		enc, err := dca.EncodeFile(url, &opts)
		if err != nil {
			return nil, errors.Wrap(err, "failed to start encoder")
		}
		return enc, nil
	}
}

// connection is a voice connection owning one player.
type connection struct {
	vc        *discordgo.VoiceConnection
	channelID string
	encoder   EncoderFactory

	mu      sync.Mutex
	current *player
}

func newConnection(vc *discordgo.VoiceConnection, channelID string, encoder EncoderFactory) *connection {
	return &connection{vc: vc, channelID: channelID, encoder: encoder}
}

func (c *connection) ChannelID() string {
	return c.channelID
}

// Play stops whatever is playing and starts streaming s.
func (c *connection) Play(ctx context.Context, s playback.Stream) (playback.Playback, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.Stop()
		c.current.wait()
		c.current = nil
	}

	src, err := c.encoder(s.URL)
	if err != nil {
		return nil, err
	}

	p := newPlayer(src, c.vc.OpusSend, c.vc.Speaking)
	c.current = p
	go p.run(ctx)

	zlog.Debug().Msgf("player started: guild=%s channel=%s title=%s", c.vc.GuildID, c.channelID, s.Track.Title)
	return p, nil
}

// Destroy stops the player and leaves the channel.
func (c *connection) Destroy() error {
	c.mu.Lock()
	p := c.current
	c.current = nil
	c.mu.Unlock()

	if p != nil {
		p.Stop()
		p.wait()
	}
	if err := c.vc.Disconnect(); err != nil {
		return errors.Wrap(err, "failed to disconnect")
	}
	zlog.Info().Msgf("voice disconnected: guild=%s channel=%s", c.vc.GuildID, c.channelID)
	return nil
}

// player pumps frames from a source into the voice connection.
type player struct {
	src     FrameSource
	out     chan<- []byte
	speak   func(bool) error
	timeout time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan error
	finished chan struct{}
}

func newPlayer(src FrameSource, out chan<- []byte, speak func(bool) error) *player {
	return &player{
		src:      src,
		out:      out,
		speak:    speak,
		timeout:  frameTimeout,
		stop:     make(chan struct{}),
		done:     make(chan error, 1),
		finished: make(chan struct{}),
	}
}

// Done yields nil when the stream ended or was stopped, the error otherwise.
func (p *player) Done() <-chan error {
	return p.done
}

// Stop flushes the player.
func (p *player) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *player) wait() {
	<-p.finished
}

func (p *player) run(ctx context.Context) {
	defer close(p.finished)
	defer p.src.Cleanup()

	if err := p.speak(true); err != nil {
		zlog.Warn().Msgf("failed to set speaking state: err=%v", err)
	}
	err := p.pump(ctx)
	if serr := p.speak(false); serr != nil {
		zlog.Debug().Msgf("failed to clear speaking state: err=%v", serr)
	}
	p.done <- err
}

func (p *player) pump(ctx context.Context) error {
	frames := 0
	for {
		select {
		case <-p.stop:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := p.src.OpusFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				if frames == 0 {
					return ErrNoAudio
				}
				return nil
			}
			return errors.WithSecondaryError(errors.Wrap(ErrDecode, "failed to read opus frame"), err)
		}

		timer := time.NewTimer(p.timeout)
		select {
		case p.out <- frame:
			timer.Stop()
			frames++
		case <-p.stop:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			return ErrVoiceStalled
		}
	}
}
