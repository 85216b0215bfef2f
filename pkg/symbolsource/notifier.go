package symbolsource

// Notifier receives population progress. Calls arrive on the population
// goroutines and must not block for long.
type Notifier interface {
	// Refresh asks the UI to redraw views that depend on symbol data.
	Refresh()
	// SymbolsReady is called once the name index of the module at
	// imageBase has been published.
	SymbolsReady(imageBase uint64, count int)
	// LogProgress reports a human readable progress line.
	LogProgress(msg string)
}

// NopNotifier ignores every notification.
type NopNotifier struct{}

func (NopNotifier) Refresh()                 {}
func (NopNotifier) SymbolsReady(uint64, int) {}
func (NopNotifier) LogProgress(string)       {}

// NotifierFuncs builds a Notifier from optional callbacks.
type NotifierFuncs struct {
	OnRefresh      func()
	OnSymbolsReady func(imageBase uint64, count int)
	OnProgress     func(msg string)
}

func (f NotifierFuncs) Refresh() {
	if f.OnRefresh != nil {
		f.OnRefresh()
	}
}

func (f NotifierFuncs) SymbolsReady(imageBase uint64, count int) {
	if f.OnSymbolsReady != nil {
		f.OnSymbolsReady(imageBase, count)
	}
}

func (f NotifierFuncs) LogProgress(msg string) {
	if f.OnProgress != nil {
		f.OnProgress(msg)
	}
}
