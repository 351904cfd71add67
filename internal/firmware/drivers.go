package firmware

import (
	"fmt"

	"aquaflash/internal/catalog"
)

// driverCode is the C++ a sensor contributes to each sketch section.
type driverCode struct {
	globals []string
	setup   []string
	read    []string
}

type emitter func(in *instance) driverCode

var emitters = map[catalog.Driver]emitter{
	catalog.DriverOneWireTemp: emitOneWire,
	catalog.DriverDHT22:       emitDHT22,
	catalog.DriverPH:          emitAnalog("float value = 7.0 + ((2.5 - voltage) / 0.18);"),
	catalog.DriverTDS:         emitAnalog("float value = (133.42 * voltage * voltage * voltage - 255.86 * voltage * voltage + 857.39 * voltage) * 0.5;"),
	catalog.DriverDO:          emitAnalog("float value = voltage * 1000.0 / 1600.0 * 8.26;"),
	catalog.DriverUltrasonic:  emitUltrasonic,
	catalog.DriverBME280:      emitBME280,
	catalog.DriverBH1750:      emitBH1750,
	catalog.DriverFlowPulse:   emitFlowPulse,
	catalog.DriverLevelSwitch: emitLevelSwitch,
}

// pinMode returns the Arduino pin mode for a sensor role.
func pinMode(d catalog.Driver, role string) string {
	switch {
	case d == catalog.DriverUltrasonic && role == "TRIG":
		return "OUTPUT"
	case d == catalog.DriverFlowPulse, d == catalog.DriverLevelSwitch, usesI2C(d):
		return "INPUT_PULLUP"
	}
	return "INPUT"
}

// addReading renders the helper call for the i-th declared reading.
func addReading(in *instance, i int, value string) string {
	r := in.sensor.Readings[i]
	return fmt.Sprintf("addReading(readings, %s, %s, %s);", cQuote(r.Type), value, cQuote(r.Unit))
}

func emitOneWire(in *instance) driverCode {
	id := in.ident()
	return driverCode{
		globals: []string{
			fmt.Sprintf("OneWire %s_bus(%s);", id, in.pinConst("DATA")),
			fmt.Sprintf("DallasTemperature %s(&%s_bus);", id, id),
		},
		setup: []string{id + ".begin();"},
		read: []string{
			id + ".requestTemperatures();",
			fmt.Sprintf("float %s_c = %s.getTempCByIndex(0);", id, id),
			fmt.Sprintf("if (%s_c != DEVICE_DISCONNECTED_C) %s", id, addReading(in, 0, id+"_c")),
		},
	}
}

func emitDHT22(in *instance) driverCode {
	id := in.ident()
	return driverCode{
		globals: []string{fmt.Sprintf("DHT %s(%s, DHT22);", id, in.pinConst("DATA"))},
		setup:   []string{id + ".begin();"},
		read: []string{
			fmt.Sprintf("float %s_t = %s.readTemperature();", id, id),
			fmt.Sprintf("float %s_h = %s.readHumidity();", id, id),
			fmt.Sprintf("if (!isnan(%s_t)) %s", id, addReading(in, 0, id+"_t")),
			fmt.Sprintf("if (!isnan(%s_h)) %s", id, addReading(in, 1, id+"_h")),
		},
	}
}

// emitAnalog reads the SIGNAL pin in volts and applies formula, which must
// declare a float named value.
func emitAnalog(formula string) emitter {
	return func(in *instance) driverCode {
		return driverCode{
			setup: []string{fmt.Sprintf("analogSetPinAttenuation(%s, ADC_11db);", in.pinConst("SIGNAL"))},
			read: []string{
				"{",
				fmt.Sprintf("  float voltage = analogReadMilliVolts(%s) / 1000.0;", in.pinConst("SIGNAL")),
				"  " + formula,
				"  " + addReading(in, 0, "value"),
				"}",
			},
		}
	}
}

func emitUltrasonic(in *instance) driverCode {
	id, trig, echo := in.ident(), in.pinConst("TRIG"), in.pinConst("ECHO")
	return driverCode{
		setup: []string{fmt.Sprintf("digitalWrite(%s, LOW);", trig)},
		read: []string{
			fmt.Sprintf("digitalWrite(%s, LOW);", trig),
			"delayMicroseconds(2);",
			fmt.Sprintf("digitalWrite(%s, HIGH);", trig),
			"delayMicroseconds(10);",
			fmt.Sprintf("digitalWrite(%s, LOW);", trig),
			fmt.Sprintf("unsigned long %s_echo = pulseIn(%s, HIGH, 30000);", id, echo),
			fmt.Sprintf("if (%s_echo > 0) %s", id, addReading(in, 0, id+"_echo * 0.0343 / 2.0")),
		},
	}
}

// i2cAddress alternates between a part's two selectable addresses by instance.
func i2cAddress(in *instance, primary, secondary string) string {
	if in.ref.Number()%2 == 0 {
		return secondary
	}
	return primary
}

func emitBME280(in *instance) driverCode {
	id := in.ident()
	return driverCode{
		globals: []string{
			fmt.Sprintf("Adafruit_BME280 %s;", id),
			fmt.Sprintf("bool %s_ok = false;", id),
		},
		setup: []string{
			fmt.Sprintf("%s_ok = %s.begin(%s, &Wire);", id, id, i2cAddress(in, "0x76", "0x77")),
			fmt.Sprintf("if (!%s_ok) Serial.println(%s);", id, cQuote(in.label()+" not found")),
		},
		read: []string{
			fmt.Sprintf("if (%s_ok) {", id),
			"  " + addReading(in, 0, id+".readTemperature()"),
			"  " + addReading(in, 1, id+".readHumidity()"),
			"  " + addReading(in, 2, id+".readPressure() / 100.0F"),
			"}",
		},
	}
}

func emitBH1750(in *instance) driverCode {
	id := in.ident()
	return driverCode{
		globals: []string{fmt.Sprintf("BH1750 %s(%s);", id, i2cAddress(in, "0x23", "0x5C"))},
		setup: []string{
			fmt.Sprintf("if (!%s.begin(BH1750::CONTINUOUS_HIGH_RES_MODE, %s, &Wire)) Serial.println(%s);",
				id, i2cAddress(in, "0x23", "0x5C"), cQuote(in.label()+" not found")),
		},
		read: []string{
			fmt.Sprintf("float %s_lux = %s.readLightLevel();", id, id),
			fmt.Sprintf("if (%s_lux >= 0) %s", id, addReading(in, 0, id+"_lux")),
		},
	}
}

func emitFlowPulse(in *instance) driverCode {
	id := in.ident()
	return driverCode{
		globals: []string{
			fmt.Sprintf("volatile unsigned long %s_pulses = 0;", id),
			fmt.Sprintf("unsigned long %s_last = 0;", id),
			fmt.Sprintf("void IRAM_ATTR %s_onPulse() { %s_pulses++; }", id, id),
		},
		setup: []string{
			fmt.Sprintf("attachInterrupt(digitalPinToInterrupt(%s), %s_onPulse, FALLING);", in.pinConst("PULSE"), id),
			fmt.Sprintf("%s_last = millis();", id),
		},
		read: []string{
			"{",
			"  noInterrupts();",
			fmt.Sprintf("  unsigned long pulses = %s_pulses;", id),
			fmt.Sprintf("  %s_pulses = 0;", id),
			"  interrupts();",
			"  unsigned long nowMs = millis();",
			fmt.Sprintf("  float seconds = (nowMs - %s_last) / 1000.0;", id),
			fmt.Sprintf("  %s_last = nowMs;", id),
			"  if (seconds > 0) " + addReading(in, 0, "(pulses / seconds) / 7.5"),
			"}",
		},
	}
}

func emitLevelSwitch(in *instance) driverCode {
	return driverCode{
		read: []string{
			addReading(in, 0, fmt.Sprintf("digitalRead(%s) == LOW ? 1 : 0", in.pinConst("SIGNAL"))),
		},
	}
}
