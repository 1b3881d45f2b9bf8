// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"fmt"
	"strings"

	seelog "github.com/cihub/seelog"

	"github.com/DataDog/sigmon/pkg/util/log"
)

const logFileMaxSize = 10 * 1024 * 1024         // 10MB
const logDateFormat = "2006-01-02 15:04:05 MST" // see time.Format for format syntax

// LoggerName specifies the name of the component the log line comes from.
type LoggerName string

// buildCommonFormat returns the log common format seelog string
func buildCommonFormat(loggerName LoggerName) string {
	return fmt.Sprintf("%%Date(%s) | %s | %%LEVEL | (%%RelFile:%%Line) | %%Msg%%n", logDateFormat, loggerName)
}

// buildJSONFormat returns the log JSON format seelog string
func buildJSONFormat(loggerName LoggerName) string {
	return fmt.Sprintf(`{&quot;monitor&quot;:&quot;%s&quot;,&quot;time&quot;:&quot;%%Date(%s)&quot;,&quot;level&quot;:&quot;%%LEVEL&quot;,&quot;file&quot;:&quot;%%RelFile&quot;,&quot;line&quot;:&quot;%%Line&quot;,&quot;msg&quot;:&quot;%%Msg&quot;}%%n`, strings.ToLower(string(loggerName)), logDateFormat)
}

// SetupLogger sets up the process logger from the log section of the config.
func SetupLogger(loggerName LoggerName, logLevel, logFile string, logToConsole, jsonFormat bool) error {
	seelogLogLevel := strings.ToLower(logLevel)
	if seelogLogLevel == "warning" { // Common gotcha when used to agents vocabulary
		seelogLogLevel = "warn"
	}
	if _, ok := seelog.LogLevelFromString(seelogLogLevel); !ok {
		return fmt.Errorf("unknown log level: %s", seelogLogLevel)
	}

	formatID := "common"
	if jsonFormat {
		formatID = "json"
	}

	configTemplate := fmt.Sprintf(`<seelog minlevel="%s">
	<outputs formatid="%s">`, seelogLogLevel, formatID)
	if logToConsole {
		configTemplate += `<console />`
	}
	if logFile != "" {
		configTemplate += fmt.Sprintf(`<rollingfile type="size" filename="%s" maxsize="%d" maxrolls="1" />`, logFile, logFileMaxSize)
	}
	configTemplate += fmt.Sprintf(`</outputs>
	<formats>
		<format id="json" format="%s"/>
		<format id="common" format="%s"/>
	</formats>
</seelog>`, buildJSONFormat(loggerName), buildCommonFormat(loggerName))

	logger, err := seelog.LoggerFromConfigAsString(configTemplate)
	if err != nil {
		return err
	}

	log.SetupSigmonLogger(logger, seelogLogLevel)
	return nil
}
