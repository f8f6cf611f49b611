package logging

import "testing"

func TestLogfRouting(t *testing.T) {
	var logged, diagged []string
	l := &Logger{
		Verbosity: 1,
		LogPrint:  func(s string) { logged = append(logged, s) },
		DiagPrint: func(s string) { diagged = append(diagged, s) },
		LogPrefix: "sl: ",
		ErrPrefix: "sl error: ",
	}

	l.Logf(0, 0, "normal %d", 1)
	l.Logf(1, 1, "diagnostic")
	l.Logf(2, 0, "error")
	l.Logf(0, 3, "suppressed by verbosity")

	if len(logged) != 1 || logged[0] != "sl: normal 1" {
		t.Fatalf("log sink got %v", logged)
	}
	if len(diagged) != 2 {
		t.Fatalf("diag sink got %v", diagged)
	}
	if diagged[0] != "sl: diagnostic" {
		t.Fatalf("diagnostic message = %q", diagged[0])
	}
	if diagged[1] != "sl error: error" {
		t.Fatalf("error message = %q", diagged[1])
	}
}

func TestLogfNilLogger(t *testing.T) {
	var l *Logger
	// Must not panic; routed to the standard logger.
	l.Logf(2, 0, "message from nil logger")
}
