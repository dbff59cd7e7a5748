package evaluator

import (
	"fmt"

	"github.com/zzzyqyf/MAB/internal/models"
)

// 固定阈值配置
// 温度和水位与模式无关；湿度按栽培模式选择安全区间
const (
	TemperatureMax = 30.0

	HumidityNormalMin  = 80.0
	HumidityNormalMax  = 85.0
	HumidityPinningMin = 90.0
	HumidityPinningMax = 95.0

	WaterMin = 30.0
	WaterMax = 70.0
)

// Evaluate 检查读数并返回越界问题列表（纯函数）
// 检查顺序固定：temperature → humidity → water，序列第一项即"主要问题"；
// 所有比较均为严格大于/小于，恰好落在边界上不算越界；
// 返回空切片表示所有读数都在安全范围内
func Evaluate(reading models.SensorReading) []models.Issue {
	var issues []models.Issue

	if reading.Temperature > TemperatureMax {
		issues = append(issues, models.Issue{
			Sensor:    models.SensorTemperature,
			Value:     reading.Temperature,
			Threshold: TemperatureMax,
			Message:   fmt.Sprintf("Temperature critical (%.1f°C > %.1f°C)", reading.Temperature, TemperatureMax),
		})
	}

	humidityMin, humidityMax := HumidityNormalMin, HumidityNormalMax
	if reading.Mode == models.ModePinning {
		humidityMin, humidityMax = HumidityPinningMin, HumidityPinningMax
	}

	if reading.Humidity < humidityMin {
		issues = append(issues, models.Issue{
			Sensor:    models.SensorHumidity,
			Value:     reading.Humidity,
			Threshold: humidityMin,
			Message:   fmt.Sprintf("Humidity too low (%.1f%% < %.1f%%)", reading.Humidity, humidityMin),
		})
	} else if reading.Humidity > humidityMax {
		issues = append(issues, models.Issue{
			Sensor:    models.SensorHumidity,
			Value:     reading.Humidity,
			Threshold: humidityMax,
			Message:   fmt.Sprintf("Humidity too high (%.1f%% > %.1f%%)", reading.Humidity, humidityMax),
		})
	}

	if reading.Water < WaterMin {
		issues = append(issues, models.Issue{
			Sensor:    models.SensorWater,
			Value:     reading.Water,
			Threshold: WaterMin,
			Message:   fmt.Sprintf("Water level low (%.1f%% < %.1f%%)", reading.Water, WaterMin),
		})
	} else if reading.Water > WaterMax {
		issues = append(issues, models.Issue{
			Sensor:    models.SensorWater,
			Value:     reading.Water,
			Threshold: WaterMax,
			Message:   fmt.Sprintf("Water level high (%.1f%% > %.1f%%)", reading.Water, WaterMax),
		})
	}

	return issues
}
