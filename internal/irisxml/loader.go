// Package irisxml loads legacy IRIS production configuration — either a
// standalone <Production> XML document or a .cls file with an embedded
// XData ProductionDefinition block — and maps IRIS class names onto this
// repo's host classes.
package irisxml

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"hie/internal/apperror"
	"hie/internal/config"
	"hie/internal/logging"
)

// defaultClassMapping is the built-in IRIS-class to this-repo-class
// mapping table, carried over verbatim from the original production
// loader's defaults.
var defaultClassMapping = map[string]string{
	"EnsLib.HL7.Service.TCPService":  "hl7.HL7TCPService",
	"EnsLib.HL7.Service.HTTPService": "hl7.HL7HTTPService",
	"EnsLib.HL7.Service.FileService": "hl7.HL7FileService",
	"EnsLib.HL7.Service.FTPService":  "hl7.HL7FTPService",

	"EnsLib.HL7.Operation.TCPOperation":  "hl7.HL7TCPOperation",
	"EnsLib.HL7.Operation.HTTPOperation": "hl7.HL7HTTPOperation",
	"EnsLib.HL7.Operation.FileOperation": "hl7.HL7FileOperation",
	"EnsLib.HL7.Operation.FTPOperation":  "hl7.HL7FTPOperation",

	"EnsLib.HL7.MsgRouter.RoutingEngine": "hl7.HL7RoutingEngine",
	"EnsLib.HL7.SequenceManager":         "hl7.HL7SequenceManager",

	"EnsLib.MsgRouter.RoutingEngine": "routing.RoutingEngine",
	"EnsLib.EMail.AlertOperation":    "email.EmailAlertOperation",
	"EnsLib.SOAP.GenericOperation":   "soap.SOAPOperation",
}

// Loader parses IRIS production configuration and maps its class names
// to this repo's class registry names.
type Loader struct {
	classMapping map[string]string
}

// NewLoader builds a Loader pre-populated with the default IRIS class
// mapping table.
func NewLoader() *Loader {
	mapping := make(map[string]string, len(defaultClassMapping))
	for k, v := range defaultClassMapping {
		mapping[k] = v
	}
	return &Loader{classMapping: mapping}
}

// RegisterClassMapping adds or overrides a single IRIS-class mapping.
func (l *Loader) RegisterClassMapping(irisClass, className string) {
	l.classMapping[irisClass] = className
}

// MapClassName resolves an IRIS class name to this repo's class name.
// Custom (non-EnsLib) classes are preserved under a "custom." prefix;
// unrecognized EnsLib classes become "unknown."-prefixed stubs with a
// logged warning, matching the original loader's fallback behavior.
func (l *Loader) MapClassName(irisClass string) string {
	if mapped, ok := l.classMapping[irisClass]; ok {
		return mapped
	}
	if !strings.HasPrefix(irisClass, "EnsLib.") {
		return "custom." + irisClass
	}
	logging.Log.Warn("unknown IRIS class, mapping to stub", "iris_class", irisClass)
	return "unknown." + irisClass
}

// Load reads path, auto-detecting .cls vs .xml by extension, and parses
// it into a ProductionConfig.
func (l *Loader) Load(path string) (*config.ProductionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeNotFound, "read IRIS configuration file")
	}

	if strings.EqualFold(filepath.Ext(path), ".cls") {
		return l.LoadFromCls(string(data))
	}
	return l.LoadFromXML(string(data))
}

// clsXDataPattern matches an `XData ProductionDefinition { ... }` block,
// capturing its body up to the first closing brace. IRIS .cls files are
// not XML themselves, so the embedded Production XML has to be sliced
// out textually first; since XML never contains a literal '}', the
// first closing brace after the opening one is always the XData block's
// own, even though the enclosing Class block closes with a second '}'
// further down the file.
var clsXDataPattern = regexp.MustCompile(`(?s)XData\s+ProductionDefinition\s*\{(.*?)\}`)

// LoadFromCls extracts the XData ProductionDefinition block from .cls
// file content and parses it as XML.
func (l *Loader) LoadFromCls(clsContent string) (*config.ProductionConfig, error) {
	match := clsXDataPattern.FindStringSubmatch(clsContent)
	if match == nil {
		return nil, apperror.New(apperror.CodeValidation, "no XData ProductionDefinition block found in .cls file")
	}
	return l.LoadFromXML(strings.TrimSpace(match[1]))
}

// LoadFromXML parses an XML string whose root element is <Production>
// into a ProductionConfig. A <Production> element nested below some other
// root element is not found; such a document is rejected.
func (l *Loader) LoadFromXML(xmlContent string) (*config.ProductionConfig, error) {
	var doc productionXML
	if err := xml.Unmarshal([]byte(xmlContent), &doc); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeValidation, "invalid IRIS production XML")
	}
	if doc.XMLName.Local != "Production" {
		return nil, apperror.New(apperror.CodeValidation, "no <Production> element found in XML")
	}
	return l.parseProduction(doc)
}

type productionXML struct {
	XMLName               xml.Name  `xml:"Production"`
	Name                  string    `xml:"Name,attr"`
	TestingEnabled        string    `xml:"TestingEnabled,attr"`
	LogGeneralTraceEvents string    `xml:"LogGeneralTraceEvents,attr"`
	Description           string    `xml:"Description,omitempty"`
	ActorPoolSize         string    `xml:"ActorPoolSize"`
	Items                 []itemXML `xml:"Item"`
}

type itemXML struct {
	Name           string       `xml:"Name,attr"`
	ClassName      string       `xml:"ClassName,attr"`
	PoolSize       string       `xml:"PoolSize,attr"`
	Enabled        string       `xml:"Enabled,attr"`
	Foreground     string       `xml:"Foreground,attr"`
	Category       string       `xml:"Category,attr,omitempty"`
	Comment        string       `xml:"Comment,attr,omitempty"`
	LogTraceEvents string       `xml:"LogTraceEvents,attr"`
	Schedule       string       `xml:"Schedule,attr,omitempty"`
	Settings       []settingXML `xml:"Setting"`
}

type settingXML struct {
	Target string `xml:"Target,attr"`
	Name   string `xml:"Name,attr"`
	Value  string `xml:",chardata"`
}

func (l *Loader) parseProduction(doc productionXML) (*config.ProductionConfig, error) {
	items := make([]config.ItemConfig, 0, len(doc.Items))
	for _, itemElem := range doc.Items {
		items = append(items, l.parseItem(itemElem))
	}

	enabledCount := 0
	for _, it := range items {
		if it.Enabled {
			enabledCount++
		}
	}
	logging.Log.Info("IRIS production loaded",
		"name", doc.Name, "items", len(items), "enabled", enabledCount)

	return &config.ProductionConfig{
		Name:                  firstNonEmpty(doc.Name, "Unknown"),
		Description:           strings.TrimSpace(doc.Description),
		TestingEnabled:        parseBool(doc.TestingEnabled),
		LogGeneralTraceEvents: parseBool(doc.LogGeneralTraceEvents),
		ActorPoolSize:         parseInt(doc.ActorPoolSize, 2),
		Items:                 items,
	}, nil
}

func (l *Loader) parseItem(elem itemXML) config.ItemConfig {
	settings := make([]config.ItemSetting, 0, len(elem.Settings))
	for _, s := range elem.Settings {
		setting, ok := l.parseSetting(s)
		if ok {
			settings = append(settings, setting)
		}
	}

	itemType := config.ItemTypeProcess
	className := l.MapClassName(elem.ClassName)
	switch {
	case strings.Contains(className, "Operation"):
		itemType = config.ItemTypeOperation
	case strings.Contains(className, "Service"):
		itemType = config.ItemTypeService
	}

	var targets []string
	for _, s := range settings {
		if s.Target == config.SettingTargetHost && s.Name == "TargetConfigNames" {
			for _, t := range strings.Split(s.Value, ",") {
				if t = strings.TrimSpace(t); t != "" {
					targets = append(targets, t)
				}
			}
		}
	}

	return config.ItemConfig{
		Name:              elem.Name,
		ClassName:         className,
		ItemType:          itemType,
		PoolSize:          parseInt(elem.PoolSize, 1),
		Enabled:           parseBoolDefault(elem.Enabled, true),
		Category:          elem.Category,
		Comment:           elem.Comment,
		Foreground:        parseBool(elem.Foreground),
		LogTraceEvents:    parseBool(elem.LogTraceEvents),
		Schedule:          elem.Schedule,
		TargetConfigNames: targets,
		Settings:          settings,
	}
}

func (l *Loader) parseSetting(elem settingXML) (config.ItemSetting, bool) {
	if elem.Target == "" || elem.Name == "" {
		return config.ItemSetting{}, false
	}

	var target config.SettingTarget
	switch elem.Target {
	case "Adapter":
		target = config.SettingTargetAdapter
	case "Host":
		target = config.SettingTargetHost
	default:
		logging.Log.Warn("invalid IRIS setting target", "target", elem.Target, "name", elem.Name)
		return config.ItemSetting{}, false
	}

	return config.ItemSetting{Target: target, Name: elem.Name, Value: strings.TrimSpace(elem.Value)}, true
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

func parseBoolDefault(s string, def bool) bool {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return parseBool(s)
}

func parseInt(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func firstNonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// boolStr renders b the way the original loader's to_xml does:
// Python's str(bool).lower().
func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// SaveToXML renders cfg as IRIS production XML and writes it to path.
func SaveToXML(cfg *config.ProductionConfig, path string) error {
	data, err := ToXML(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "write IRIS production XML")
	}
	return nil
}

// ToXML renders cfg as a pretty-printed IRIS <Production> XML document,
// the inverse of LoadFromXML. ClassName is written as-is (already this
// repo's class name, not mapped back to an IRIS EnsLib name) — the
// original loader's own to_xml has the same one-way behavior.
func ToXML(cfg *config.ProductionConfig) ([]byte, error) {
	doc := productionXML{
		Name:                  cfg.Name,
		TestingEnabled:        boolStr(cfg.TestingEnabled),
		LogGeneralTraceEvents: boolStr(cfg.LogGeneralTraceEvents),
		Description:           cfg.Description,
		ActorPoolSize:         strconv.Itoa(cfg.ActorPoolSize),
	}
	for _, item := range cfg.Items {
		itemElem := itemXML{
			Name:           item.Name,
			ClassName:      item.ClassName,
			PoolSize:       strconv.Itoa(item.PoolSize),
			Enabled:        boolStr(item.Enabled),
			Foreground:     boolStr(item.Foreground),
			Category:       item.Category,
			Comment:        item.Comment,
			LogTraceEvents: boolStr(item.LogTraceEvents),
			Schedule:       item.Schedule,
		}
		for _, s := range item.Settings {
			target := "Adapter"
			if s.Target == config.SettingTargetHost {
				target = "Host"
			}
			itemElem.Settings = append(itemElem.Settings, settingXML{Target: target, Name: s.Name, Value: s.Value})
		}
		doc.Items = append(doc.Items, itemElem)
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "marshal IRIS production XML")
	}
	return append([]byte(xml.Header), body...), nil
}
