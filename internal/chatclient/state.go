package chatclient

// state es la fase del ciclo de reintentos de un Stream.
type state int

const (
	stateAttempting state = iota
	stateRetrying
	stateSucceeded
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateAttempting:
		return "attempting"
	case stateRetrying:
		return "retrying"
	case stateSucceeded:
		return "succeeded"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// outcome clasifica el resultado de un intento o de la espera de backoff.
type outcome int

const (
	// outcomeAccepted es una respuesta 2xx cuyo body se va a consumir.
	outcomeAccepted outcome = iota
	// outcomeTimeout es el vencimiento del timer antes de los headers.
	outcomeTimeout
	// outcomeUnavailable es un 502 con un evento upstream_failed explicito.
	outcomeUnavailable
	// outcomeFatal es cualquier otro error; nunca se reintenta.
	outcomeFatal
	// outcomeBackoffDone indica que termino la espera entre intentos.
	outcomeBackoffDone
)

func (o outcome) retryable() bool {
	return o == outcomeTimeout || o == outcomeUnavailable
}

// transition es la tabla de estados. budget es la cantidad de reintentos que
// quedan antes de aplicar la transicion.
func transition(from state, o outcome, budget int) state {
	switch from {
	case stateAttempting:
		switch {
		case o == outcomeAccepted:
			return stateSucceeded
		case o.retryable() && budget > 0:
			return stateRetrying
		default:
			return stateFailed
		}
	case stateRetrying:
		if o == outcomeBackoffDone {
			return stateAttempting
		}
		return stateFailed
	}
	return from
}
