package debug

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

//
// Debug output is controlled by the KSCHEDDEBUG environment variable,
// which can be a list of labels (e.g., "SCHED;WAIT"). The kernel's config
// may add labels at boot with SetLabels.
//

const ENVVAR = "KSCHEDDEBUG"

var labels atomic.Pointer[map[Tselector]bool]

var log *zap.SugaredLogger

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.Encoding = "console"
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000")
	cfg.DisableCaller = true
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	log = l.Sugar()
	SetLabels(os.Getenv(ENVVAR))
}

func parseLabels(s string) map[Tselector]bool {
	m := make(map[Tselector]bool)
	if s == "" {
		return m
	}
	for _, l := range strings.Split(s, ";") {
		if l != "" {
			m[Tselector(l)] = true
		}
	}
	return m
}

// SetLabels replaces the enabled labels with those in s, keeping any set
// in the environment.
func SetLabels(s string) {
	m := parseLabels(os.Getenv(ENVVAR))
	for l := range parseLabels(s) {
		m[l] = true
	}
	labels.Store(&m)
}

func IsLabelSet(label Tselector) bool {
	if label == ALWAYS || label == ERROR {
		return true
	}
	m := labels.Load()
	return m != nil && (*m)[label]
}

func DPrintf(label Tselector, format string, v ...interface{}) {
	if IsLabelSet(label) {
		log.Infof("%v %v", label, fmt.Sprintf(format, v...))
	}
}

func DFatalf(format string, v ...interface{}) {
	// Get info for the caller.
	pc, file, line, ok := runtime.Caller(1)
	fnDetails := runtime.FuncForPC(pc)
	if ok && fnDetails != nil {
		log.Fatalf("FATAL %v %v:%v %v", fnDetails.Name(), file, line, fmt.Sprintf(format, v...))
	} else {
		log.Fatalf("FATAL (missing details) %v", fmt.Sprintf(format, v...))
	}
}

func Sync() {
	log.Sync()
}
