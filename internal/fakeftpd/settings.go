package fakeftpd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib/vsftpdconf"
)

type optionKind int

const (
	boolOption optionKind = iota
	uintOption
	stringOption
)

// The subset of vsftpd directives the fake daemon understands.
var knownOptions = map[string]optionKind{
	"anonymous_enable":      boolOption,
	"background":            boolOption,
	"connect_from_port_20":  boolOption,
	"dirmessage_enable":     boolOption,
	"listen":                boolOption,
	"listen_ipv6":           boolOption,
	"local_enable":          boolOption,
	"pasv_enable":           boolOption,
	"run_as_launching_user": boolOption,
	"seccomp_sandbox":       boolOption,
	"use_localtime":         boolOption,
	"write_enable":          boolOption,
	"xferlog_enable":        boolOption,
	"idle_session_timeout":  uintOption,
	"listen_port":           uintOption,
	"pasv_max_port":         uintOption,
	"pasv_min_port":         uintOption,
	"anon_root":             stringOption,
	"ftpd_banner":           stringOption,
	"listen_address":        stringOption,
	"pam_service_name":      stringOption,
	"secure_chroot_dir":     stringOption,
}

// Settings is the effective configuration after the file and -o overrides.
type Settings struct {
	Listen          bool
	ListenIPv6      bool
	ListenAddress   string
	ListenPort      int
	AnonymousEnable bool
	LocalEnable     bool
	Banner          string
	IdleTimeout     int
}

func defaultSettings() *Settings {
	return &Settings{
		ListenAddress:   "127.0.0.1",
		ListenPort:      21,
		AnonymousEnable: true,
		Banner:          "(fakeftpd)",
		IdleTimeout:     300,
	}
}

func (s *Settings) apply(d vsftpdconf.Directive) error {
	kind, ok := knownOptions[d.Key]
	if !ok {
		return fmt.Errorf("unrecognised variable in config file: %s", d.Key)
	}

	switch kind {
	case boolOption:
		v, err := parseBool(d.Value)
		if err != nil {
			return fmt.Errorf("bad bool value in config file for: %s", d.Key)
		}
		switch d.Key {
		case "listen":
			s.Listen = v
		case "listen_ipv6":
			s.ListenIPv6 = v
		case "anonymous_enable":
			s.AnonymousEnable = v
		case "local_enable":
			s.LocalEnable = v
		}
	case uintOption:
		v, err := strconv.ParseUint(d.Value, 10, 32)
		if err != nil {
			return fmt.Errorf("bad numeric value in config file for: %s", d.Key)
		}
		switch d.Key {
		case "listen_port":
			if v > 65535 {
				return fmt.Errorf("bad numeric value in config file for: %s", d.Key)
			}
			s.ListenPort = int(v)
		case "idle_session_timeout":
			s.IdleTimeout = int(v)
		}
	case stringOption:
		switch d.Key {
		case "listen_address":
			s.ListenAddress = d.Value
		case "ftpd_banner":
			s.Banner = d.Value
		}
	}
	return nil
}

func (s *Settings) validate() error {
	if s.Listen && s.ListenIPv6 {
		return fmt.Errorf("run two copies of vsftpd for IPv4 and IPv6")
	}
	if !s.Listen && !s.ListenIPv6 {
		return fmt.Errorf("fakeftpd supports standalone mode only")
	}
	return nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToUpper(v) {
	case "YES", "TRUE", "1":
		return true, nil
	case "NO", "FALSE", "0":
		return false, nil
	}
	return false, fmt.Errorf("bad bool %q", v)
}
