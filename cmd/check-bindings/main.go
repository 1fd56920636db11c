package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"wisefido-monitor/internal/config"
	"wisefido-monitor/internal/database"
)

// 排查绑定与遥测落库状态的调试工具
// 用法: DB_HOST=... DB_NAME=... go run ./cmd/check-bindings
func main() {
	// 从环境变量获取数据库连接信息
	cfg := &config.DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     parseInt(getEnv("DB_PORT", "5432"), 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "owlrd"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	// 连接数据库
	db, err := database.NewPostgresDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// 1. 检查 device_bindings 表中的绑定关系
	fmt.Println(strings.Repeat("=", 90))
	fmt.Println("1. Device_bindings 表中的设备绑定")
	fmt.Println(strings.Repeat("=", 90))
	query1 := `
		SELECT
			b.device_id,
			b.family,
			CASE WHEN b.patient_id IS NULL THEN 'UNBOUND' ELSE b.patient_id END as patient_id
		FROM device_bindings b
		ORDER BY b.family, b.device_id;
	`

	rows1, err := db.Query(query1)
	if err != nil {
		log.Fatalf("Failed to query device_bindings: %v", err)
	}
	defer rows1.Close()

	fmt.Printf("%-30s %-12s %-36s\n", "device_id", "family", "patient_id")
	fmt.Println(strings.Repeat("-", 90))

	var bindingCount, boundCount int
	for rows1.Next() {
		var deviceID, family, patientID sql.NullString
		if err := rows1.Scan(&deviceID, &family, &patientID); err != nil {
			log.Printf("Failed to scan row: %v", err)
			continue
		}
		fmt.Printf("%-30s %-12s %-36s\n", getString(deviceID), getString(family), getString(patientID))
		bindingCount++
		if patientID.Valid && patientID.String != "UNBOUND" {
			boundCount++
		}
	}
	fmt.Printf("\n共 %d 条绑定记录, 其中 %d 条已绑定病人\n", bindingCount, boundCount)

	// 2. 检查 devices 表中的设备运行状态
	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Println("2. Devices 表中的设备运行状态（最近上报时间与消息计数）")
	fmt.Println(strings.Repeat("=", 90))
	query2 := `
		SELECT
			d.device_id,
			d.family,
			CASE WHEN d.patient_id IS NULL THEN 'NULL' ELSE d.patient_id END as patient_id,
			d.last_seen_at,
			d.messages_total,
			CASE WHEN b.device_id IS NULL THEN 'NO_BINDING' ELSE 'HAS_BINDING' END as binding_status
		FROM devices d
		LEFT JOIN device_bindings b ON d.device_id = b.device_id
		ORDER BY d.last_seen_at DESC;
	`

	rows2, err := db.Query(query2)
	if err != nil {
		log.Fatalf("Failed to query devices: %v", err)
	}
	defer rows2.Close()

	fmt.Printf("%-30s %-12s %-36s %-25s %-15s %-15s\n",
		"device_id", "family", "patient_id", "last_seen_at", "messages_total", "binding_status")
	fmt.Println(strings.Repeat("-", 90))

	var deviceCount int
	for rows2.Next() {
		var deviceID, family, patientID, bindingStatus sql.NullString
		var lastSeenAt sql.NullTime
		var messagesTotal sql.NullInt64
		if err := rows2.Scan(&deviceID, &family, &patientID, &lastSeenAt, &messagesTotal, &bindingStatus); err != nil {
			log.Printf("Failed to scan row: %v", err)
			continue
		}
		fmt.Printf("%-30s %-12s %-36s %-25s %-15s %-15s\n",
			getString(deviceID), getString(family), getString(patientID),
			getTime(lastSeenAt), getInt(messagesTotal), getString(bindingStatus))
		deviceCount++
	}

	if deviceCount == 0 {
		fmt.Println("⚠️  devices 表为空, 服务可能尚未收到任何设备消息")
	}

	// 3. 检查 patient_readings 表中每个病人的最新读数
	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Println("3. Patient_readings 表中的最新读数")
	fmt.Println(strings.Repeat("=", 90))
	query3 := `
		SELECT
			pr.patient_id,
			pr.device_id,
			pr.measurement_type,
			pr.numeric_value,
			pr.diastolic_value,
			CASE WHEN pr.text_value IS NULL THEN 'NULL' ELSE pr.text_value END as text_value,
			pr.flag_value,
			pr.observed_at
		FROM patient_readings pr
		ORDER BY pr.patient_id, pr.measurement_type;
	`

	rows3, err := db.Query(query3)
	if err != nil {
		log.Fatalf("Failed to query patient_readings: %v", err)
	}
	defer rows3.Close()

	fmt.Printf("%-36s %-30s %-18s %-14s %-16s %-14s %-10s %-25s\n",
		"patient_id", "device_id", "measurement_type", "numeric_value", "diastolic_value",
		"text_value", "flag_value", "observed_at")
	fmt.Println(strings.Repeat("-", 90))

	var readingCount int
	for rows3.Next() {
		var patientID, deviceID, measurementType, textValue sql.NullString
		var numericValue, diastolicValue sql.NullFloat64
		var flagValue sql.NullBool
		var observedAt sql.NullTime
		if err := rows3.Scan(&patientID, &deviceID, &measurementType, &numericValue, &diastolicValue,
			&textValue, &flagValue, &observedAt); err != nil {
			log.Printf("Failed to scan row: %v", err)
			continue
		}
		fmt.Printf("%-36s %-30s %-18s %-14s %-16s %-14s %-10s %-25s\n",
			getString(patientID), getString(deviceID), getString(measurementType),
			getFloat(numericValue), getFloat(diastolicValue), getString(textValue),
			getBool(flagValue), getTime(observedAt))
		readingCount++
	}

	if readingCount == 0 {
		fmt.Println("⚠️  未找到 patient_readings 记录, 检查设备是否已绑定病人")
	} else {
		fmt.Printf("\n共找到 %d 条读数记录\n", readingCount)
	}

	// 4. 检查 alert_events 表中未解除的告警
	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Println("4. Alert_events 表中未解除的告警")
	fmt.Println(strings.Repeat("=", 90))
	query4 := `
		SELECT
			a.alert_id,
			a.rule_id,
			CASE WHEN a.patient_id IS NULL THEN 'NULL' ELSE a.patient_id END as patient_id,
			a.device_id,
			a.severity,
			a.state,
			a.message,
			a.triggered_at
		FROM alert_events a
		WHERE a.state = 'open'
		ORDER BY a.triggered_at DESC;
	`

	rows4, err := db.Query(query4)
	if err != nil {
		log.Fatalf("Failed to query alert_events: %v", err)
	}
	defer rows4.Close()

	fmt.Printf("%-36s %-24s %-36s %-30s %-10s %-8s %-40s %-25s\n",
		"alert_id", "rule_id", "patient_id", "device_id", "severity", "state", "message", "triggered_at")
	fmt.Println(strings.Repeat("-", 90))

	var openCount int
	for rows4.Next() {
		var alertID, ruleID, patientID, deviceID, severity, state, message sql.NullString
		var triggeredAt sql.NullTime
		if err := rows4.Scan(&alertID, &ruleID, &patientID, &deviceID, &severity, &state, &message, &triggeredAt); err != nil {
			log.Printf("Failed to scan row: %v", err)
			continue
		}
		fmt.Printf("%-36s %-24s %-36s %-30s %-10s %-8s %-40s %-25s\n",
			getString(alertID), getString(ruleID), getString(patientID), getString(deviceID),
			getString(severity), getString(state), getString(message), getTime(triggeredAt))
		openCount++
	}

	if openCount == 0 {
		fmt.Println("当前没有未解除的告警")
	} else {
		fmt.Printf("\n⚠️  共 %d 条未解除告警\n", openCount)
	}
}

func getString(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return "NULL"
}

func getTime(t sql.NullTime) string {
	if t.Valid {
		return t.Time.Format("2006-01-02 15:04:05")
	}
	return "NULL"
}

func getFloat(f sql.NullFloat64) string {
	if f.Valid {
		return fmt.Sprintf("%.2f", f.Float64)
	}
	return "NULL"
}

func getInt(i sql.NullInt64) string {
	if i.Valid {
		return fmt.Sprintf("%d", i.Int64)
	}
	return "NULL"
}

func getBool(b sql.NullBool) string {
	if b.Valid {
		return fmt.Sprintf("%v", b.Bool)
	}
	return "NULL"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
