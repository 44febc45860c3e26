package turn

// State is one phase of a conversational turn.
type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StatePendingSend  State = "pending_send"
	StateThinking     State = "thinking"
	StateSpeaking     State = "speaking"
)

// Event drives state transitions.
type Event string

const (
	EventAudioStart      Event = "AUDIO_START"
	EventTextSend        Event = "TEXT_SEND"
	EventSilenceDetected Event = "SILENCE_DETECTED"
	EventCancel          Event = "CANCEL"
	EventError           Event = "ERROR"
	EventSTTDone         Event = "STT_DONE"
	EventSTTEmpty        Event = "STT_EMPTY"
	EventAudioResume     Event = "AUDIO_RESUME"
	EventSend            Event = "SEND"
	EventLLMFirstChunk   Event = "LLM_FIRST_CHUNK"
	EventLLMDone         Event = "LLM_DONE"
	EventBargeIn         Event = "BARGE_IN"
)

type transitionKey struct {
	state State
	event Event
}

// table is the turn FSM. Any (state, event) pair absent from
// this map is silently ignored by transition.
var table = map[transitionKey]State{
	{StateIdle, EventAudioStart}: StateListening,
	{StateIdle, EventTextSend}:   StateThinking,

	{StateListening, EventSilenceDetected}: StateTranscribing,
	{StateListening, EventCancel}:          StateIdle,
	{StateListening, EventError}:           StateIdle,

	{StateTranscribing, EventSTTDone}:     StatePendingSend,
	{StateTranscribing, EventSTTEmpty}:    StateIdle,
	{StateTranscribing, EventAudioResume}: StateListening,
	{StateTranscribing, EventCancel}:      StateIdle,
	{StateTranscribing, EventError}:       StateIdle,

	{StatePendingSend, EventSend}:        StateThinking,
	{StatePendingSend, EventTextSend}:    StateThinking,
	{StatePendingSend, EventAudioResume}: StateListening,
	{StatePendingSend, EventCancel}:      StateIdle,

	{StateThinking, EventLLMFirstChunk}: StateSpeaking,
	{StateThinking, EventLLMDone}:       StateIdle,
	{StateThinking, EventCancel}:        StateIdle,
	{StateThinking, EventBargeIn}:       StateIdle,
	{StateThinking, EventError}:         StateIdle,

	{StateSpeaking, EventLLMDone}: StateIdle,
	{StateSpeaking, EventCancel}:  StateIdle,
	{StateSpeaking, EventBargeIn}: StateIdle,
	{StateSpeaking, EventError}:   StateIdle,
}

// next looks up the transition for (state, event). ok is false if the pair
// is not in the table, in which case state is unchanged by convention of
// the caller.
func next(state State, event Event) (State, bool) {
	to, ok := table[transitionKey{state, event}]
	return to, ok
}
