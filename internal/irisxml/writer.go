package irisxml

import (
	"encoding/xml"
	"os"
	"strconv"
	"strings"

	"hie/internal/apperror"
	"hie/internal/config"
)

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

// ToXML renders cfg as an IRIS-style <Production> XML document, the
// inverse of Loader.LoadFromXML. Class names are written back out
// verbatim (this repo's own names, not reverse-mapped to IRIS's), since
// round-tripping through IRIS class names isn't something any consumer
// of this repo's output needs.
func ToXML(cfg *config.ProductionConfig) ([]byte, error) {
	doc := productionXML{
		Name:                  cfg.Name,
		TestingEnabled:        strconv.FormatBool(cfg.TestingEnabled),
		LogGeneralTraceEvents: strconv.FormatBool(cfg.LogGeneralTraceEvents),
		Description:           cfg.Description,
		ActorPoolSize:         strconv.Itoa(cfg.ActorPoolSize),
	}

	for _, item := range cfg.Items {
		itemElem := itemXML{
			Name:      item.Name,
			ClassName: item.ClassName,
			PoolSize:  strconv.Itoa(item.PoolSize),
			Enabled:   strconv.FormatBool(item.Enabled),
			Category:  item.Category,
		}
		for _, s := range item.Settings {
			itemElem.Settings = append(itemElem.Settings, settingXML{
				Target: settingTargetLabel(s.Target),
				Name:   s.Name,
				Value:  s.Value,
			})
		}
		doc.Items = append(doc.Items, itemElem)
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "marshal IRIS production XML")
	}

	var out strings.Builder
	out.WriteString(xml.Header)
	out.Write(body)
	out.WriteByte('\n')
	return []byte(out.String()), nil
}

func settingTargetLabel(t config.SettingTarget) string {
	switch t {
	case config.SettingTargetAdapter:
		return "Adapter"
	case config.SettingTargetHost:
		return "Host"
	default:
		return string(t)
	}
}
