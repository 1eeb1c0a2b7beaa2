package chanscan

import (
	"log"
	"sync"
	"time"
)

// ClassificationCount is the per-RF tri-state classifier tally used by
// the auto-priority feedback loop, ported directly from ham2mon's
// ClassificationCount dataclass (scanner.py) rather than a generic map.
type ClassificationCount struct {
	V, D, S int
}

// ActivityPipeline is the C6 component: it enriches ChannelMessage
// events with label/priority, dispatches them to the configured logger,
// tells the CenterFrequencyProvider about interesting activity, and
// drives the auto-priority feedback loop.
type ActivityPipeline struct {
	Registry       *FrequencyRegistry
	Logger         ChannelLogger
	Provider       *CenterFrequencyProvider
	Recent         *RecentEvents // optional
	ChannelSpacing int64

	// Record mirrors the scanner's "record" mode: whether demodulators
	// are expected to produce files. It changes what counts as
	// "interesting" (§4.6).
	Record bool

	// AutoPriority enables the classification-driven feedback loop.
	AutoPriority bool

	// LogTimeout is the §4.6 "logger timer" interval: the period at which
	// an on-going channel re-emits a synthetic act event. Zero disables
	// the timer entirely.
	LogTimeout time.Duration

	stats map[float64]*ClassificationCount

	timersMu sync.Mutex
	timers   map[int]channelTimer
}

// channelTimer is the running act-repeat task for one demodulator
// channel, keyed by ChannelMessage.Channel.
type channelTimer struct {
	stop chan struct{}
	done chan struct{}
}

// NewActivityPipeline constructs a pipeline bound to registry/logger/provider.
// logTimeout is the §4.6 logger-timer interval; zero disables it.
func NewActivityPipeline(registry *FrequencyRegistry, logger ChannelLogger, provider *CenterFrequencyProvider, channelSpacing int64, record, autoPriority bool, logTimeout time.Duration) *ActivityPipeline {
	return &ActivityPipeline{
		Registry:       registry,
		Logger:         logger,
		Provider:       provider,
		ChannelSpacing: channelSpacing,
		Record:         record,
		AutoPriority:   autoPriority,
		LogTimeout:     logTimeout,
		stats:          make(map[float64]*ClassificationCount),
		timers:         make(map[int]channelTimer),
	}
}

// Handle processes one ChannelMessage as it arrives from a demodulator
// slot (§4.6): enrich, log, signal interesting activity, update
// auto-priority stats.
func (p *ActivityPipeline) Handle(msg ChannelMessage) {
	msg.Label = p.Registry.LabelFor(msg.RF)
	msg.Priority = p.Registry.PriorityAt(msg.BB)

	switch msg.State {
	case StateOn:
		p.startActivityTimer(msg)
	case StateOff:
		p.stopActivityTimer(msg.Channel)
	}

	if p.Recent != nil {
		p.Recent.Add(msg)
	}

	p.dispatch(msg)

	if p.interesting(msg) {
		p.Provider.InterestingActivity()
	}

	p.assessPriority(msg.RF, msg.Classification)
}

// startActivityTimer arms the §4.6 logger timer for msg.Channel: a
// repeating task that re-dispatches msg as a synthetic act event every
// LogTimeout, until stopActivityTimer cancels it on the matching off
// event. Any timer already running for this channel is replaced, since
// an on event always means the channel was previously idle or just
// finished its prior transmission.
func (p *ActivityPipeline) startActivityTimer(msg ChannelMessage) {
	if p.LogTimeout <= 0 {
		return
	}
	p.stopActivityTimer(msg.Channel)

	stop := make(chan struct{})
	done := make(chan struct{})
	p.timersMu.Lock()
	p.timers[msg.Channel] = channelTimer{stop: stop, done: done}
	p.timersMu.Unlock()

	act := msg
	act.State = StateAct

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.LogTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.dispatch(act)
			case <-stop:
				return
			}
		}
	}()
}

// stopActivityTimer cancels the running timer for channel, if any, and
// waits briefly for its goroutine to actually exit. A cancellation that
// doesn't take effect in time is logged but not fatal (§4.6).
func (p *ActivityPipeline) stopActivityTimer(channel int) {
	p.timersMu.Lock()
	timer, ok := p.timers[channel]
	if ok {
		delete(p.timers, channel)
	}
	p.timersMu.Unlock()
	if !ok {
		return
	}

	close(timer.stop)
	select {
	case <-timer.done:
	case <-time.After(2 * time.Second):
		log.Printf("chanscan: activity timer for channel %d did not cancel in time", channel)
	}
}

// dispatch forwards msg to the logger. Logger failures must not
// propagate (§4.6, §7 LogDeliveryError): ChannelLogger implementations
// are themselves responsible for swallowing delivery errors, but we
// recover here too in case a logger panics.
func (p *ActivityPipeline) dispatch(msg ChannelMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("chanscan: channel logger panicked: %v", r)
		}
	}()
	if p.Logger != nil {
		p.Logger.Log(msg)
	}
}

// interesting implements §4.6's definition: recording with a file
// produced, or not recording and the state went on.
func (p *ActivityPipeline) interesting(msg ChannelMessage) bool {
	if p.Record && msg.File != "" {
		return true
	}
	if !p.Record && msg.State == StateOn {
		return true
	}
	return false
}

// assessPriority implements the auto-priority feedback loop (§4.6 step 4,
// ported from ham2mon's Scanner.priority_assess). Stats are keyed by RF
// (MHz), matching the original's xmit_stats dict, so they survive a
// center-frequency change.
func (p *ActivityPipeline) assessPriority(rf float64, classification Classification) {
	if !p.AutoPriority || classification == "" {
		return
	}

	counts, ok := p.stats[rf]
	if !ok {
		counts = &ClassificationCount{}
		p.stats[rf] = counts
	}
	switch classification {
	case ClassVoice:
		counts.V++
	case ClassData:
		counts.D++
	case ClassSkip:
		counts.S++
	}

	bb := frequencyToBaseband(rf, p.currentCenter(), p.ChannelSpacing)
	synthetic := FrequencyEntry{Single: &rf}
	one := 1

	if counts.V > counts.D && counts.V > counts.S {
		if p.Registry.PriorityAt(bb) == nil {
			synthetic.Priority = &one
			if err := p.Registry.Add(synthetic); err != nil {
				log.Printf("chanscan: auto-priority add failed for %.6f MHz: %v", rf, err)
			}
		}
	} else {
		if p.Registry.PriorityAt(bb) != nil {
			p.Registry.Remove(FrequencyEntry{Single: &rf})
		}
	}
}

// currentCenter reads the registry's own idea of the current center
// frequency, so the pipeline never has to track it separately.
func (p *ActivityPipeline) currentCenter() int64 {
	return p.Registry.center
}
