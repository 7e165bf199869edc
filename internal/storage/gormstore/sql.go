package gormstore

import "github.com/chrissnell/powermeter/pkg/migrate"

// NotifyChannel is the Postgres channel every inserted sensor_readings row is announced on
const NotifyChannel = "sensor_readings_insert"

// postgresMigrations hold the Postgres-only schema that AutoMigrate cannot create
var postgresMigrations = []migrate.Migration{
	{
		Version: 1,
		Name:    "sensor readings notify trigger",
		Up: `
CREATE OR REPLACE FUNCTION notify_sensor_reading_insert() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('` + NotifyChannel + `', row_to_json(NEW)::text);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS sensor_readings_notify ON sensor_readings;

CREATE TRIGGER sensor_readings_notify
    AFTER INSERT ON sensor_readings
    FOR EACH ROW EXECUTE FUNCTION notify_sensor_reading_insert();`,
		Down: `
DROP TRIGGER IF EXISTS sensor_readings_notify ON sensor_readings;
DROP FUNCTION IF EXISTS notify_sensor_reading_insert();`,
	},
}
