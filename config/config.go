package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	db "ksched/debug"
)

const ENVPREFIX = "KSCHED_"

type Config_t struct {
	Ncpu       int           `yaml:"ncpu" mapstructure:"ncpu"`
	Tick       time.Duration `yaml:"tick" mapstructure:"tick"`
	Manual     bool          `yaml:"manual" mapstructure:"manual"`
	Quantum    int           `yaml:"quantum" mapstructure:"quantum"`
	Capacity   float64       `yaml:"capacity" mapstructure:"capacity"`
	Probe      int           `yaml:"probe" mapstructure:"probe"`
	Sysprocs   int           `yaml:"sysprocs" mapstructure:"sysprocs"`
	Noproc     int           `yaml:"noproc" mapstructure:"noproc"`
	Futexes    int           `yaml:"futexes" mapstructure:"futexes"`
	Latsamples int           `yaml:"latsamples" mapstructure:"latsamples"`
	Init       string        `yaml:"init" mapstructure:"init"`
	Debug      string        `yaml:"debug" mapstructure:"debug"`
	Deadlock   bool          `yaml:"deadlock" mapstructure:"deadlock"`
}

func Default() *Config_t {
	return &Config_t{
		Ncpu:       4,
		Tick:       time.Millisecond,
		Quantum:    10,
		Capacity:   1.0,
		Probe:      100,
		Sysprocs:   1e4,
		Noproc:     1e4,
		Futexes:    1024,
		Latsamples: 1024,
		Init:       "init",
	}
}

// Load reads the yaml file at pn, if pn is not empty, on top of the
// defaults and then applies KSCHED_<FIELD> environment overrides.
func Load(pn string) (*Config_t, error) {
	m := make(map[string]interface{})
	if pn != "" {
		file, err := os.Open(pn)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		d := yaml.NewDecoder(file)
		if err := d.Decode(&m); err != nil {
			return nil, fmt.Errorf("config %v: %v", pn, err)
		}
	}
	envOverride(m)
	cfg := Default()
	if err := decode(m, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db.DPrintf(db.CONFIG, "config %v", cfg)
	return cfg, nil
}

func decode(m map[string]interface{}, cfg *Config_t) error {
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return d.Decode(m)
}

func envOverride(m map[string]interface{}) {
	rt := reflect.TypeOf(Config_t{})
	for i := 0; i < rt.NumField(); i++ {
		k := rt.Field(i).Tag.Get("mapstructure")
		if v, ok := os.LookupEnv(ENVPREFIX + strings.ToUpper(k)); ok {
			m[k] = v
		}
	}
}

func (cfg *Config_t) Validate() error {
	switch {
	case cfg.Ncpu <= 0:
		return fmt.Errorf("ncpu %d", cfg.Ncpu)
	case cfg.Tick <= 0:
		return fmt.Errorf("tick %v", cfg.Tick)
	case cfg.Quantum <= 0:
		return fmt.Errorf("quantum %d", cfg.Quantum)
	case cfg.Probe <= 0:
		return fmt.Errorf("probe %d", cfg.Probe)
	case cfg.Capacity <= 0 || cfg.Capacity > 1:
		return fmt.Errorf("capacity %v", cfg.Capacity)
	case cfg.Sysprocs <= 0 || cfg.Noproc <= 0 || cfg.Futexes <= 0:
		return fmt.Errorf("limits %d %d %d", cfg.Sysprocs, cfg.Noproc, cfg.Futexes)
	}
	return nil
}

func (cfg *Config_t) String() string {
	return fmt.Sprintf("{ncpu %d tick %v manual %v quantum %d cap %.2f sysprocs %d noproc %d futexes %d}",
		cfg.Ncpu, cfg.Tick, cfg.Manual, cfg.Quantum, cfg.Capacity, cfg.Sysprocs, cfg.Noproc, cfg.Futexes)
}
