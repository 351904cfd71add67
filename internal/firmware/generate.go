package firmware

// Generate renders the firmware for cfg. It returns nil when no board is
// selected; any other input yields output, with problems reported as warnings.
// Identical configs produce identical output.
func Generate(cfg Config) *Firmware {
	if cfg.Board == nil {
		return nil
	}

	p := plan(&cfg)
	libs := resolveLibraries(&cfg, p)
	name := Filename(cfg.deviceName(), cfg.Board)

	return &Firmware{
		Source:    render(&cfg, p, libs),
		Filename:  name,
		Libraries: libs,
		Warnings:  validate(&cfg, p),
		Project:   renderProject(&cfg, libs, name),
	}
}
