package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkhz/bttnc/bluez/bluetest"
	"github.com/darkhz/bttnc/errorkinds"
	"github.com/darkhz/bttnc/poll/polltest"
	"github.com/darkhz/bttnc/tnc"
)

const address = tnc.Address("38:D2:00:01:11:FE")

type harness struct {
	agent    *bluetest.Agent
	bridge   *fakeBridge
	attacher *fakeAttacher
	store    *fakeStore
	progress *stages
	clock    *polltest.Clock
	hook     *test.Hook

	orch *Orchestrator
}

func newHarness(agent *bluetest.Agent, bridge *fakeBridge) *harness {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h := &harness{
		agent:    agent,
		bridge:   bridge,
		attacher: &fakeAttacher{},
		store:    &fakeStore{},
		progress: &stages{},
		clock:    polltest.NewClock(),
		hook:     hook,
	}

	h.orch = New(Deps{
		Agent:    h.agent,
		Bridge:   h.bridge,
		Attacher: h.attacher,
		Store:    h.store,
		Progress: h.progress,
		Clock:    h.clock,
		Logger:   logger,
	}, Options{})

	return h
}

func target(skipLinkAttach bool) tnc.Target {
	return tnc.Target{
		Address:        address,
		Channel:        0,
		Callsign:       "N0CALL",
		SkipLinkAttach: skipLinkAttach,
	}
}

func pairedDevice() tnc.Device {
	return tnc.Device{Address: address, Name: "UV-PRO", Paired: tnc.Paired}
}

func TestConnectPairedSerialOnly(t *testing.T) {
	h := newHarness(bluetest.NewAgent(pairedDevice()), &fakeBridge{boundAfter: []int{2}})

	outcome, err := h.orch.Connect(context.Background(), target(true), false)
	require.NoError(t, err)

	assert.Equal(t, tnc.Outcome{Kind: tnc.SerialOnly, Channel: 0}, outcome)
	assert.Zero(t, h.agent.ScanStarts.Load())
	assert.Zero(t, h.agent.Count("trust"))
	assert.Zero(t, h.agent.Count("pair"))
	assert.Equal(t, 1, h.bridge.Count("bind"))
	assert.Empty(t, h.attacher.ports)

	assert.Equal(t, []string{
		"terminate 0",
		"release 0",
		"bind 0 " + address.String(),
	}, h.bridge.Calls())

	assert.Equal(t, []Stage{StageCleanup, StageConfigure, StageBind}, h.progress.started)
}

func TestConnectCleansUpBeforeAnythingElse(t *testing.T) {
	for _, tc := range []struct {
		name   string
		agent  func() *bluetest.Agent
		bridge *fakeBridge
	}{
		{
			name:   "paired",
			agent:  func() *bluetest.Agent { return bluetest.NewAgent(pairedDevice()) },
			bridge: &fakeBridge{boundAfter: []int{0}},
		},
		{
			name: "unpaired",
			agent: func() *bluetest.Agent {
				agent := bluetest.NewAgent()
				agent.Advertising = []tnc.Device{{Address: address, Name: "UV-PRO"}}

				return agent
			},
			bridge: &fakeBridge{boundAfter: []int{0}},
		},
		{
			name:   "unreachable",
			agent:  func() *bluetest.Agent { return bluetest.NewAgent() },
			bridge: &fakeBridge{},
		},
		{
			name:   "already bound",
			agent:  func() *bluetest.Agent { return bluetest.NewAgent(pairedDevice()) },
			bridge: &fakeBridge{bound: true},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			agent := tc.agent()
			agentCallsAtCleanup := -1

			tc.bridge.before = func() {
				if agentCallsAtCleanup < 0 {
					agentCallsAtCleanup = len(agent.Calls())
				}
			}

			h := newHarness(agent, tc.bridge)

			_, _ = h.orch.Connect(context.Background(), target(false), false)

			assert.Zero(t, agentCallsAtCleanup)
			assert.GreaterOrEqual(t, h.bridge.Count("terminate"), 1)
			assert.Equal(t, "terminate 0", h.bridge.Calls()[0])
			assert.Equal(t, "release 0", h.bridge.Calls()[1])
		})
	}
}

func TestConnectUnpairedLinkUp(t *testing.T) {
	agent := bluetest.NewAgent()
	agent.Advertising = []tnc.Device{{Address: address, Name: "Mobilinkd TNC3"}}

	h := newHarness(agent, &fakeBridge{boundAfter: []int{0}})

	outcome, err := h.orch.Connect(context.Background(), target(false), false)
	require.NoError(t, err)

	assert.Equal(t, tnc.Outcome{Kind: tnc.LinkUp, Channel: 0, Interface: "ax0"}, outcome)
	assert.Equal(t, []string{"tnc0"}, h.attacher.ports)
	assert.Equal(t, 1, agent.Count("remove"))
	assert.Equal(t, 1, agent.Count("trust"))
	assert.Equal(t, 1, agent.Count("pair"))
	assert.EqualValues(t, 1, agent.ScanStops.Load())

	require.Len(t, h.store.remembered, 1)
	assert.Equal(t, address, h.store.remembered[0].Address)
	assert.Equal(t, "N0CALL", h.store.remembered[0].Callsign)

	assert.Equal(t, []Stage{
		StageCleanup, StageConfigure, StagePairing, StageBind, StageAttach,
	}, h.progress.started)
}

func TestConnectSkipPriorCleanupKeepsPairingCache(t *testing.T) {
	agent := bluetest.NewAgent()
	agent.Advertising = []tnc.Device{{Address: address, Name: "UV-PRO"}}

	h := newHarness(agent, &fakeBridge{boundAfter: []int{0}})

	_, err := h.orch.Connect(context.Background(), target(true), true)
	require.NoError(t, err)

	assert.Zero(t, agent.Count("remove"))
	assert.Equal(t, 1, agent.Count("pair"))
}

func TestConnectAuthenticationFailed(t *testing.T) {
	agent := bluetest.NewAgent()
	agent.Advertising = []tnc.Device{{Address: address, Name: "UV-PRO"}}
	agent.PairErr = errorkinds.New(errorkinds.ErrAuthenticationFailed, errors.New("org.bluez.Error.AuthenticationFailed"))

	h := newHarness(agent, &fakeBridge{boundAfter: []int{0}})

	_, err := h.orch.Connect(context.Background(), target(false), false)
	require.ErrorIs(t, err, errorkinds.ErrAuthenticationFailed)

	assert.EqualValues(t, 1, agent.ScanStarts.Load())
	assert.EqualValues(t, 1, agent.ScanStops.Load())
	assert.Zero(t, h.bridge.Count("bind"))
	assert.Empty(t, h.attacher.ports)
}

func TestConnectCallsign(t *testing.T) {
	t.Run("required", func(t *testing.T) {
		h := newHarness(bluetest.NewAgent(pairedDevice()), &fakeBridge{boundAfter: []int{0}})

		tg := target(true)
		tg.Callsign = " "

		_, err := h.orch.Connect(context.Background(), tg, false)
		require.ErrorIs(t, err, errorkinds.ErrCallsignRequired)

		assert.Empty(t, h.agent.Calls())
		assert.Zero(t, h.bridge.Count("bind"))
		assert.Equal(t, 1, h.bridge.Count("terminate"))
	})

	t.Run("persisted", func(t *testing.T) {
		h := newHarness(bluetest.NewAgent(pairedDevice()), &fakeBridge{boundAfter: []int{0}})
		h.store.callsign = "N0CALL-2"

		tg := target(true)
		tg.Callsign = ""

		_, err := h.orch.Connect(context.Background(), tg, false)
		require.NoError(t, err)

		require.Len(t, h.store.remembered, 1)
		assert.Equal(t, "N0CALL-2", h.store.remembered[0].Callsign)
	})

	t.Run("prompted", func(t *testing.T) {
		h := newHarness(bluetest.NewAgent(pairedDevice()), &fakeBridge{boundAfter: []int{0}})

		var prompts int
		h.orch.prompt = func(context.Context) (string, error) {
			prompts++
			return " n0call\n", nil
		}

		tg := target(true)
		tg.Callsign = ""

		_, err := h.orch.Connect(context.Background(), tg, false)
		require.NoError(t, err)

		assert.Equal(t, 1, prompts)
		assert.Equal(t, "N0CALL", h.store.remembered[0].Callsign)
	})

	t.Run("prompted invalid", func(t *testing.T) {
		h := newHarness(bluetest.NewAgent(pairedDevice()), &fakeBridge{boundAfter: []int{0}})
		h.orch.prompt = func(context.Context) (string, error) {
			return "N0 CALL", nil
		}

		tg := target(true)
		tg.Callsign = ""

		_, err := h.orch.Connect(context.Background(), tg, false)
		require.ErrorIs(t, err, errorkinds.ErrInvalidCallsign)
		assert.NotEmpty(t, errorkinds.Hint(err))
		assert.False(t, errorkinds.Retryable(err))

		assert.Empty(t, h.store.remembered)
		assert.Empty(t, h.agent.Calls())
		assert.Zero(t, h.bridge.Count("bind"))
	})

	t.Run("prompt failed", func(t *testing.T) {
		h := newHarness(bluetest.NewAgent(pairedDevice()), &fakeBridge{boundAfter: []int{0}})

		promptErr := errors.New("EOF")
		h.orch.prompt = func(context.Context) (string, error) {
			return "", promptErr
		}

		tg := target(true)
		tg.Callsign = ""

		_, err := h.orch.Connect(context.Background(), tg, false)
		require.ErrorIs(t, err, errorkinds.ErrCallsignRequired)
		require.ErrorIs(t, err, promptErr)
	})
}

func TestConnectAttachFailureIsFatal(t *testing.T) {
	h := newHarness(bluetest.NewAgent(pairedDevice()), &fakeBridge{boundAfter: []int{0}})
	h.attacher.err = errorkinds.Newf(errorkinds.ErrInterfaceNotCreated, "ax0 is not present")

	_, err := h.orch.Connect(context.Background(), target(false), false)
	require.ErrorIs(t, err, errorkinds.ErrInterfaceNotCreated)

	assert.Len(t, h.attacher.ports, 1)
	assert.Equal(t, 1, h.bridge.Count("bind"))
}

func TestBindChannelShortCircuits(t *testing.T) {
	for _, tc := range []struct {
		name       string
		boundAfter []int
		attempt    int
		elapsed    time.Duration
	}{
		{"first tick", []int{0}, 1, 0},
		{"first attempt", []int{4}, 1, 4 * time.Second},
		{"second attempt", []int{-1, 3}, 2, 15 * time.Second},
		{"last attempt", []int{-1, -1, 10}, 3, 34 * time.Second},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(bluetest.NewAgent(), &fakeBridge{boundAfter: tc.boundAfter})

			require.NoError(t, h.orch.bindChannel(context.Background(), address, 0))

			assert.Equal(t, tc.attempt, h.bridge.binds)
			assert.EqualValues(t, tc.attempt-1, h.bridge.stops.Load())
			assert.Equal(t, tc.elapsed, h.clock.Elapsed())
			assert.LessOrEqual(t, h.clock.Elapsed(), time.Duration(tc.attempt)*(DefaultAttemptTicks*time.Second+DefaultRetryPause))
		})
	}
}

func TestBindChannelRadioNeedsRestart(t *testing.T) {
	h := newHarness(bluetest.NewAgent(), &fakeBridge{refused: true})

	err := h.orch.bindChannel(context.Background(), address, 0)
	require.ErrorIs(t, err, errorkinds.ErrRadioNeedsRestart)
	assert.False(t, errorkinds.Retryable(err))

	assert.Equal(t, 1, h.bridge.binds)
	assert.EqualValues(t, 1, h.bridge.stops.Load())
	assert.Zero(t, h.clock.Sleeps(DefaultRetryPause))
}

func TestBindChannelExhausted(t *testing.T) {
	h := newHarness(bluetest.NewAgent(), &fakeBridge{})

	err := h.orch.bindChannel(context.Background(), address, 0)
	require.ErrorIs(t, err, errorkinds.ErrBindExhausted)

	assert.Equal(t, 3, h.bridge.binds)
	assert.EqualValues(t, 3, h.bridge.stops.Load())
	assert.Equal(t, 2, h.clock.Sleeps(DefaultRetryPause))
	assert.Equal(t, 34*time.Second, h.clock.Elapsed())

	var warnings int
	for _, entry := range h.hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
}

func TestBindChannelBindErrorIsRetried(t *testing.T) {
	bindErr := errors.New("rfcomm: executable file not found in $PATH")
	h := newHarness(bluetest.NewAgent(), &fakeBridge{bindErr: bindErr})

	err := h.orch.bindChannel(context.Background(), address, 0)
	require.ErrorIs(t, err, errorkinds.ErrBindExhausted)
	require.ErrorIs(t, err, bindErr)

	assert.Equal(t, 3, h.bridge.binds)
}

func TestBindChannelCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHarness(bluetest.NewAgent(), &fakeBridge{})

	err := h.orch.bindChannel(ctx, address, 0)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, errorkinds.ErrBindExhausted)

	assert.Equal(t, 1, h.bridge.binds)
	assert.EqualValues(t, 1, h.bridge.stops.Load())
}

func TestHaltIsIdempotent(t *testing.T) {
	h := newHarness(bluetest.NewAgent(), &fakeBridge{})

	require.NoError(t, h.orch.Halt(context.Background(), 1))
	require.NoError(t, h.orch.Halt(context.Background(), 1))

	assert.Equal(t, []string{
		"terminate 1", "release 1",
		"terminate 1", "release 1",
	}, h.bridge.Calls())
	assert.Equal(t, 2*DefaultSettlePause, h.clock.Elapsed())
	assert.Empty(t, h.agent.Calls())
}

func TestAutoConnect(t *testing.T) {
	var (
		uvpro     = tnc.Device{Address: "00:11:22:33:44:55", Name: "UV-PRO"}
		mobilinkd = tnc.Device{Address: address, Name: "Mobilinkd TNC3"}
		cached    = tnc.Device{Address: "AA:BB:CC:DD:EE:01", Name: "NinoTNC", Paired: tnc.Paired}
		headset   = tnc.Device{Address: "AA:BB:CC:DD:EE:02", Name: "Headphones", Paired: tnc.Paired}
	)

	agent := bluetest.NewAgent(cached, headset)
	agent.Advertising = []tnc.Device{mobilinkd, uvpro}
	agent.DiscoverAfter = 1

	h := newHarness(agent, &fakeBridge{boundAfter: []int{0}})

	selection, err := h.orch.AutoConnect(context.Background(), 0, "N0CALL", false)
	require.NoError(t, err)

	assert.Equal(t, mobilinkd.Address, selection.Device.Address, "first advertised wins")
	assert.Equal(t, 2, selection.Candidates)
	assert.Equal(t, tnc.Outcome{Kind: tnc.LinkUp, Channel: 0, Interface: "ax0"}, selection.Outcome)

	calls := agent.Calls()
	assert.Contains(t, calls, "remove "+cached.Address.String())
	assert.NotContains(t, calls, "remove "+headset.Address.String())
	assert.NotContains(t, calls, "remove "+uvpro.Address.String())
	assert.Equal(t, 1, agent.Count("pair"))

	assert.EqualValues(t, 2, agent.ScanStarts.Load())
	assert.EqualValues(t, 2, agent.ScanStops.Load())
}

func TestAutoConnectNothingFound(t *testing.T) {
	agent := bluetest.NewAgent(tnc.Device{Address: "AA:BB:CC:DD:EE:02", Name: "Headphones"})

	h := newHarness(agent, &fakeBridge{boundAfter: []int{0}})

	_, err := h.orch.AutoConnect(context.Background(), 0, "N0CALL", false)
	require.ErrorIs(t, err, errorkinds.ErrDeviceNotDiscovered)

	assert.Equal(t, 15*time.Second, h.clock.Elapsed())
	assert.EqualValues(t, 1, agent.ScanStops.Load())
	assert.Zero(t, h.bridge.Count("bind"))
	assert.Equal(t, 15, h.progress.ticks[StageScan])
}

func TestDiscoverKeepsScanOrder(t *testing.T) {
	late := tnc.Device{Address: "00:00:00:00:00:01", Name: "PicoAPRS"}
	early := tnc.Device{Address: "FF:FF:FF:FF:FF:01", Name: "TH-D74"}

	agent := bluetest.NewAgent(early)
	agent.Advertising = []tnc.Device{late}
	agent.DiscoverAfter = 2

	h := newHarness(agent, &fakeBridge{})

	devices, err := h.orch.Discover(context.Background(), 5)
	require.NoError(t, err)

	require.Len(t, devices, 2)
	assert.Equal(t, early.Address, devices[0].Address)
	assert.Equal(t, late.Address, devices[1].Address)
	assert.Equal(t, tnc.NotPaired, devices[1].Paired)
	assert.Equal(t, 5*time.Second, h.clock.Elapsed())
	assert.EqualValues(t, 1, agent.ScanStops.Load())
}

func TestDiscoverScanFailure(t *testing.T) {
	agent := bluetest.NewAgent()
	agent.StartErr = errors.New("org.bluez.Error.NotReady")

	h := newHarness(agent, &fakeBridge{})

	_, err := h.orch.Discover(context.Background(), 5)
	require.ErrorIs(t, err, errorkinds.ErrDeviceNotDiscovered)
}

func TestPreflight(t *testing.T) {
	origEuid, origLookPath := geteuid, lookPath
	t.Cleanup(func() {
		geteuid, lookPath = origEuid, origLookPath
	})

	installed := map[string]bool{"rfcomm": true}
	lookPath = func(file string) (string, error) {
		if installed[file] {
			return "/usr/bin/" + file, nil
		}

		return "", errors.New("executable file not found in $PATH")
	}

	geteuid = func() int { return 1000 }
	require.ErrorIs(t, Preflight(false), errorkinds.ErrNotPrivileged)

	geteuid = func() int { return 0 }
	require.NoError(t, Preflight(false))

	err := Preflight(true)
	require.ErrorIs(t, err, errorkinds.ErrMissingPrerequisites)
	assert.Contains(t, err.Error(), "kissattach, kissparms")

	installed["kissattach"], installed["kissparms"] = true, true
	require.NoError(t, Preflight(true))
}
