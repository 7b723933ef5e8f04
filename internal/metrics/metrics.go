package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event bus metrics
var (
	// EventPublishesTotal tracks publishes by event name
	EventPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_publishes_total",
			Help: "Total event bus publishes by event name",
		},
		[]string{"event"},
	)

	// EventHandlerErrorsTotal tracks async handler failures by event name
	EventHandlerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_handler_errors_total",
			Help: "Total async event handler failures by event name",
		},
		[]string{"event"},
	)
)

// Dispatcher metrics
var (
	// DispatcherQueueDepth tracks current queued task count
	DispatcherQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_queue_depth",
			Help: "Current number of tasks waiting in the dispatch queue",
		},
	)

	// DispatcherDroppedTasksTotal counts oldest-task drops on overflow
	DispatcherDroppedTasksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_dropped_tasks_total",
			Help: "Total tasks dropped due to dispatch queue overflow",
		},
	)

	// DispatcherTaskPanicsTotal counts recovered task panics
	DispatcherTaskPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_task_panics_total",
			Help: "Total panics recovered while executing dispatched tasks",
		},
	)
)

// Chat command metrics
var (
	// CommandInvocationsTotal tracks command invocations by logical id and status
	CommandInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_command_invocations_total",
			Help: "Total chat command invocations by command and status",
		},
		[]string{"command", "status"},
	)
)

// Overlay metrics
var (
	// OverlayConnectedClients tracks connected overlay sockets by kind
	OverlayConnectedClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "overlay_connected_clients",
			Help: "Currently connected overlay clients by kind (control/audio)",
		},
		[]string{"kind"},
	)

	// OverlaySlowClientsEvicted counts clients dropped for unresponsiveness
	OverlaySlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "overlay_slow_clients_evicted_total",
			Help: "Total overlay clients evicted because their send buffer filled",
		},
	)

	// SpeechUtterancesTotal counts spoken utterances by TTS source and status
	SpeechUtterancesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speech_utterances_total",
			Help: "Total spoken utterances by TTS source and status",
		},
		[]string{"source", "status"},
	)

	// SpeechDurationSeconds observes total playback duration per utterance
	SpeechDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "speech_duration_seconds",
			Help:    "Playback duration of spoken utterances in seconds",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
)

// Session metrics
var (
	// SessionTransitionsTotal tracks lifecycle transitions by target state
	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_transitions_total",
			Help: "Total session lifecycle transitions by target state",
		},
		[]string{"state"},
	)

	// PartySize tracks the current party size
	PartySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "party_size",
			Help: "Current number of active party members",
		},
	)
)
