package engine

import (
	"strings"
	"time"

	"hie/internal/adapter"
	"hie/internal/apperror"
	"hie/internal/config"
	"hie/internal/hl7"
	"hie/internal/host"
	"hie/internal/registry"
)

// buildHost instantiates the host implementation for item, resolving its
// mapped class name via the class registry and binding whichever
// adapter/schema the class name calls for. Mirrors the spec's "for each
// item, instantiate the host implementation named by class_name via the
// class registry; pass the item settings bag" load step: the registered
// constructors below re-fetch the full ItemConfig by name (see
// RegisterDefaultClasses) rather than taking the settings map literally,
// since adapter construction needs both Adapter- and Host-target
// settings that a single flat map would have to re-split anyway.
func (e *Engine) buildHost(item *config.ItemConfig) (HostHandle, error) {
	built, err := e.classes.Build(item.ClassName, item.Name, nil)
	if err != nil {
		return nil, err
	}
	handle, ok := built.(HostHandle)
	if !ok {
		return nil, apperror.NewWithField(apperror.CodeInternal, "registered class did not build a usable host", item.ClassName)
	}
	return handle, nil
}

// schemaFor resolves the message schema an item should bind, from its
// Host-target MessageSchemaCategory setting, or nil if unset/unknown.
func schemaFor(item *config.ItemConfig) *hl7.Schema {
	category := item.SettingString(config.SettingTargetHost, "MessageSchemaCategory", "")
	if category == "" {
		return nil
	}
	return registry.Schemas().Get(category)
}

// RegisterDefaultClasses wires the built-in HL7 TCP/HTTP/File
// service/operation classes, and the routing-engine process class, into
// classes. Called once at engine construction; callers may register
// additional classes (custom adapters, transforms) before Deploy.
func RegisterDefaultClasses(classes *registry.ClassRegistry, buildItem func(name string) *config.ItemConfig) {
	// The Constructor signature only carries a flat settings map, not the
	// originating ItemConfig, so each constructor looks the item back up
	// by name via buildItem to recover its full settings/target list and
	// TargetConfigNames. The production engine supplies buildItem bound to
	// its loaded ProductionConfig.
	registerServiceClasses(classes, buildItem)
	registerOperationClasses(classes, buildItem)
	registerProcessClasses(classes, buildItem)
}

func registerServiceClasses(classes *registry.ClassRegistry, buildItem func(name string) *config.ItemConfig) {
	tcp := func(name string, _ map[string]string) (any, error) {
		item := buildItem(name)
		in := adapter.NewMLLPInbound(name, adapter.MLLPInboundConfig{
			Port:           item.SettingInt(config.SettingTargetAdapter, "Port", 2575),
			Host:           item.SettingString(config.SettingTargetAdapter, "Host", "0.0.0.0"),
			MaxConnections: item.SettingInt(config.SettingTargetAdapter, "MaxConnections", 100),
			ReadTimeout:    time.Duration(item.SettingInt(config.SettingTargetAdapter, "ReadTimeoutSeconds", 30)) * time.Second,
			AckTimeout:     time.Duration(item.SettingInt(config.SettingTargetAdapter, "AckTimeoutSeconds", 30)) * time.Second,
		})
		return host.NewServiceHost(item, in, schemaFor(item)), nil
	}
	classes.Register("hl7.HL7TCPService", tcp)

	http := func(name string, _ map[string]string) (any, error) {
		item := buildItem(name)
		methods := splitCommaList(item.SettingString(config.SettingTargetAdapter, "Methods", "POST"))
		contentTypes := splitCommaList(item.SettingString(config.SettingTargetAdapter, "ContentTypes", ""))
		in := adapter.NewHTTPInbound(name, adapter.HTTPInboundConfig{
			Host:         item.SettingString(config.SettingTargetAdapter, "Host", "0.0.0.0"),
			Port:         item.SettingInt(config.SettingTargetAdapter, "Port", 8080),
			Path:         item.SettingString(config.SettingTargetAdapter, "Path", "/"),
			Methods:      methods,
			ContentTypes: contentTypes,
			MaxBodySize:  int64(item.SettingInt(config.SettingTargetAdapter, "MaxBodySize", 1<<20)),
			ReadTimeout:  time.Duration(item.SettingInt(config.SettingTargetAdapter, "ReadTimeoutSeconds", 30)) * time.Second,
			WriteTimeout: time.Duration(item.SettingInt(config.SettingTargetAdapter, "WriteTimeoutSeconds", 30)) * time.Second,
		})
		return host.NewServiceHost(item, in, schemaFor(item)), nil
	}
	classes.Register("hl7.HL7HTTPService", http)

	file := func(name string, _ map[string]string) (any, error) {
		item := buildItem(name)
		in := adapter.NewFileInbound(name, adapter.FileInboundConfig{
			WatchDirectory: item.SettingString(config.SettingTargetAdapter, "WatchDirectory", "."),
			Patterns:       splitCommaList(item.SettingString(config.SettingTargetAdapter, "Patterns", "*")),
			PollInterval:   time.Duration(item.SettingInt(config.SettingTargetAdapter, "PollIntervalSeconds", 5)) * time.Second,
			MoveTo:         item.SettingString(config.SettingTargetAdapter, "MoveTo", ""),
			DeleteAfter:    item.SettingBool(config.SettingTargetAdapter, "DeleteAfter", false),
			Recursive:      item.SettingBool(config.SettingTargetAdapter, "Recursive", false),
		})
		return host.NewServiceHost(item, in, schemaFor(item)), nil
	}
	classes.Register("hl7.HL7FileService", file)
}

func registerOperationClasses(classes *registry.ClassRegistry, buildItem func(name string) *config.ItemConfig) {
	tcp := func(name string, _ map[string]string) (any, error) {
		item := buildItem(name)
		out := adapter.NewMLLPOutbound(name, adapter.MLLPOutboundConfig{
			IPAddress:      item.SettingString(config.SettingTargetAdapter, "IPAddress", "127.0.0.1"),
			Port:           item.SettingInt(config.SettingTargetAdapter, "Port", 2575),
			ConnectTimeout: time.Duration(item.SettingInt(config.SettingTargetAdapter, "ConnectTimeoutSeconds", 10)) * time.Second,
			WriteTimeout:   time.Duration(item.SettingInt(config.SettingTargetAdapter, "WriteTimeoutSeconds", 10)) * time.Second,
			AckTimeout:     time.Duration(item.SettingInt(config.SettingTargetAdapter, "AckTimeoutSeconds", 30)) * time.Second,
			ReconnectDelay: time.Duration(item.SettingInt(config.SettingTargetAdapter, "ReconnectDelaySeconds", 5)) * time.Second,
			MaxRetries:     item.SettingInt(config.SettingTargetAdapter, "MaxConnectRetries", 3),
			KeepAlive:      item.SettingBool(config.SettingTargetAdapter, "KeepAlive", true),
		})
		return host.NewOperationHost(item, out, schemaFor(item)), nil
	}
	classes.Register("hl7.HL7TCPOperation", tcp)
}

func registerProcessClasses(classes *registry.ClassRegistry, buildItem func(name string) *config.ItemConfig) {
	router := func(name string, _ map[string]string) (any, error) {
		item := buildItem(name)
		return host.NewProcessHost(item, schemaFor(item)), nil
	}
	classes.Register("hl7.HL7RoutingEngine", router)
	classes.Register("routing.RoutingEngine", router)
}

func splitCommaList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

