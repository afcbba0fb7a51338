//go:build unix

package logsink

import (
	"fmt"
	"io"
	"log/syslog"
	"strings"

	"gopkg.in/hlandau/daemonize.v1/daemon/derr"
)

// Syslog sends each line written to a stream as one syslog message.
//
// Network and Addr select the server as for syslog.Dial; both empty means the
// local syslog socket. The process id is always included in messages.
//
// Zero priorities select the defaults, so LOG_KERN and LOG_EMERG cannot be
// configured; neither is meaningful for a daemon's output.
type Syslog struct {
	Network string
	Addr    string
	Tag     string

	Facility    syslog.Priority // defaults to LOG_DAEMON
	OutPriority syslog.Priority // severity for stdout, defaults to LOG_INFO
	ErrPriority syslog.Priority // severity for stderr, defaults to LOG_ERR
}

// DefaultSyslog returns the sink used when none is configured.
func DefaultSyslog(tag string) *Syslog {
	return &Syslog{
		Tag:         tag,
		Facility:    syslog.LOG_DAEMON,
		OutPriority: syslog.LOG_INFO,
		ErrPriority: syslog.LOG_ERR,
	}
}

func (s *Syslog) priority(stream Stream) syslog.Priority {
	facility := s.Facility
	if facility == 0 {
		facility = syslog.LOG_DAEMON
	}

	severity := s.OutPriority
	if stream == Stderr {
		severity = s.ErrPriority
		if severity == 0 {
			severity = syslog.LOG_ERR
		}
	} else if severity == 0 {
		severity = syslog.LOG_INFO
	}

	return facility&facilityMask | severity&severityMask
}

func (s *Syslog) Open(stream Stream) (io.WriteCloser, error) {
	w, err := syslog.Dial(s.Network, s.Addr, s.priority(stream), s.Tag)
	if err != nil {
		return nil, derr.New(derr.SinkUnavailable, "dial syslog for "+stream.String(), err)
	}

	return w, nil
}

const (
	severityMask = 0x07
	facilityMask = 0xf8
)

var facilities = map[string]syslog.Priority{
	"kern":     syslog.LOG_KERN,
	"user":     syslog.LOG_USER,
	"mail":     syslog.LOG_MAIL,
	"daemon":   syslog.LOG_DAEMON,
	"auth":     syslog.LOG_AUTH,
	"syslog":   syslog.LOG_SYSLOG,
	"lpr":      syslog.LOG_LPR,
	"news":     syslog.LOG_NEWS,
	"uucp":     syslog.LOG_UUCP,
	"cron":     syslog.LOG_CRON,
	"authpriv": syslog.LOG_AUTHPRIV,
	"ftp":      syslog.LOG_FTP,
	"local0":   syslog.LOG_LOCAL0,
	"local1":   syslog.LOG_LOCAL1,
	"local2":   syslog.LOG_LOCAL2,
	"local3":   syslog.LOG_LOCAL3,
	"local4":   syslog.LOG_LOCAL4,
	"local5":   syslog.LOG_LOCAL5,
	"local6":   syslog.LOG_LOCAL6,
	"local7":   syslog.LOG_LOCAL7,
}

var severities = map[string]syslog.Priority{
	"emerg":   syslog.LOG_EMERG,
	"alert":   syslog.LOG_ALERT,
	"crit":    syslog.LOG_CRIT,
	"err":     syslog.LOG_ERR,
	"error":   syslog.LOG_ERR,
	"warning": syslog.LOG_WARNING,
	"warn":    syslog.LOG_WARNING,
	"notice":  syslog.LOG_NOTICE,
	"info":    syslog.LOG_INFO,
	"debug":   syslog.LOG_DEBUG,
}

// ParseFacility maps a facility name such as "daemon" or "local3" to its
// value.
func ParseFacility(name string) (syslog.Priority, error) {
	p, ok := facilities[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown syslog facility: %q", name)
	}
	return p, nil
}

// ParsePriority maps a severity name such as "info" or "err" to its value.
func ParsePriority(name string) (syslog.Priority, error) {
	p, ok := severities[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown syslog priority: %q", name)
	}
	return p, nil
}
