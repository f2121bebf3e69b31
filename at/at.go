package at

const (
	// Terminal Control
	CR     = "\r"
	CRLF   = "\r\n"
	Prompt = "> "
	CtrlZ  = "\x1a"

	// Response Codes
	OK          = "OK"
	ERROR       = "ERROR"
	NoCarrier   = "NO CARRIER"
	NoDialtone  = "NO DIALTONE"
	Busy        = "BUSY"
	NoAnswer    = "NO ANSWER"
	Ring        = "RING"
	CmeError    = "+CME ERROR:"
	CmsError    = "+CMS ERROR:"
	SmsReady    = "SMS"
	SimReady    = "+CPIN: READY"
	SimPin      = "+CPIN: SIM PIN"
	MoRing      = "MO RING"
	MoConnected = "MO CONNECTED"

	// URCs (Unsolicited Result Codes)
	UrcNewMsg         = "+CMTI:"
	UrcCallerID       = "+CLIP:"
	UrcUSSD           = "+CUSD:"
	UrcMessageReport  = "+CDSI:"
	UrcSignalStrength = "+CSQ:"
	UrcCall           = Ring

	// Registration replies. The first digit is the URC mode set by
	// AT+CREG=0, the second the registration state (1 home, 5 roaming).
	RegisteredHome    = "0,1"
	RegisteredRoaming = "0,5"
)

// Commands. The SIM800 family accepts either CR or CRLF as terminator;
// the strings below are sent verbatim.
const (
	CmdAt              = "AT\r\n"
	CmdEchoOff         = "ATE0\r\n"
	CmdVerboseErrors   = "AT+CMEE=2\r\n"
	CmdSimStatus       = "AT+CPIN?\r\n"
	CmdSetTextMode     = "AT+CMGF=1\r\n"
	CmdTextParams      = "AT+CSMP=17,167,0,0\r\n"
	CmdMoRing          = "AT+MORING=1\r\n"
	CmdShowCallerLine  = "AT+CLIR=0\r\n"
	CmdUSSDEnable      = "AT+CUSD=1\r\n"
	CmdStorageSIM      = "AT+CPMS=\"SM\",\"SM\",\"SM\"\r\n"
	CmdCallerID        = "AT+CLIP=1\r\n"
	CmdNewMsgIndicator = "AT+CNMI=2,1,0,0,0\r\n"
	CmdRegistration    = "AT+CREG?\r\n"
	CmdProductInfo     = "ATI\r"
	CmdOperators       = "AT+COPS=?\r"
	CmdOperator        = "AT+COPS?\r"
	CmdSignalQuality   = "AT+CSQ\r\n"
	CmdAnswer          = "ATA\r\n"
	CmdHangUp          = "ATH\r\n"
	CmdActivityStatus  = "AT+CPAS\r\n"
	CmdDeleteAllSMS    = "AT+CMGDA=\"DEL ALL\"\r\n"
	CmdClock           = "AT+CCLK?\r\n"
	CmdLocationTime    = "AT+CIPGSMLOC=2,1\r\n"
	CmdWhitelistQuery  = "AT+CWHITELIST?\r\n"
	CmdWhitelistOff    = "AT+CWHITELIST=0\r\n"
)

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CSQ: ...)
	TypePrompt                     // SMS input prompt
)
