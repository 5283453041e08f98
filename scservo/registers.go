package scservo

// RegisterType describes how a register's raw bytes should be
// interpreted once reassembled.
type RegisterType int

const (
	Unsigned RegisterType = iota
	Signed
)

// Register describes one entry of the servo's control-table memory map:
// its name, byte address, width, and signedness.
type Register struct {
	Name    string
	Address byte
	Size    int // 1 or 2 bytes
	Type    RegisterType
}

// The servo control-table register map, covering EEPROM and SRAM
// regions. Addresses below 32 are EEPROM and incur the extra write
// settle time in Handler.WriteTxRx.
var (
	RegModel            = Register{"Model", 3, 2, Unsigned}
	RegID                = Register{"ID", 5, 1, Unsigned}
	RegBaudrate          = Register{"Baudrate", 6, 1, Unsigned}
	RegMinAngleLimit     = Register{"MinAngleLimit", 9, 2, Unsigned}
	RegMaxAngleLimit     = Register{"MaxAngleLimit", 11, 2, Unsigned}
	RegMaxTemperature    = Register{"MaxTemperature", 13, 1, Unsigned}
	RegMaxVoltage        = Register{"MaxVoltage", 14, 1, Unsigned}
	RegMinVoltage        = Register{"MinVoltage", 15, 1, Unsigned}
	RegMaxTorque         = Register{"MaxTorque", 16, 2, Unsigned}
	RegPCoefficient      = Register{"PCoefficient", 21, 1, Unsigned}
	RegDCoefficient      = Register{"DCoefficient", 22, 1, Unsigned}
	RegICoefficient      = Register{"ICoefficient", 23, 1, Unsigned}
	RegCWDeadZone        = Register{"CWDeadZone", 26, 1, Unsigned}
	RegCCWDeadZone       = Register{"CCWDeadZone", 27, 1, Unsigned}
	RegProtectionCurrent = Register{"ProtectionCurrent", 28, 2, Unsigned}
	RegOffset            = Register{"Offset", 31, 2, Unsigned}
	RegMode              = Register{"Mode", 33, 1, Unsigned}
	RegTorqueEnable      = Register{"TorqueEnable", 40, 1, Unsigned}
	RegAcceleration      = Register{"Acceleration", 41, 1, Unsigned}
	RegGoalPosition      = Register{"GoalPosition", 42, 2, Unsigned}
	RegGoalTime          = Register{"GoalTime", 44, 2, Unsigned}
	RegGoalSpeed         = Register{"GoalSpeed", 46, 2, Signed}
	RegLock              = Register{"Lock", 55, 1, Unsigned}
	RegPresentPosition   = Register{"PresentPosition", 56, 2, Unsigned}
	RegPresentSpeed      = Register{"PresentSpeed", 58, 2, Signed}
	RegPresentLoad       = Register{"PresentLoad", 60, 2, Signed}
	RegPresentVoltage    = Register{"PresentVoltage", 62, 1, Unsigned}
	RegPresentTemperature = Register{"PresentTemperature", 63, 1, Unsigned}
	RegMoving            = Register{"Moving", 66, 1, Unsigned}
	RegPresentCurrent    = Register{"PresentCurrent", 69, 2, Unsigned}

	RegDefaultMovingThreshold = Register{"DefaultMovingThreshold", 80, 1, Unsigned}
	RegDefaultDTS             = Register{"DefaultDTS", 81, 1, Unsigned}
	RegDefaultVK              = Register{"DefaultVK", 82, 1, Unsigned}
	RegDefaultVMin            = Register{"DefaultVMin", 83, 1, Unsigned}
	RegDefaultVMax            = Register{"DefaultVMax", 84, 1, Unsigned}
	RegDefaultAMax            = Register{"DefaultAMax", 85, 1, Unsigned}
	RegDefaultKAcc            = Register{"DefaultKAcc", 86, 1, Unsigned}
)

// RegisterTable lists every known register in address order, used by
// DumpParameters, and by LookupRegister to resolve an address to its
// name, size and type.
var RegisterTable = []Register{
	RegModel, RegID, RegBaudrate, RegMinAngleLimit, RegMaxAngleLimit,
	RegMaxTemperature, RegMaxVoltage, RegMinVoltage, RegMaxTorque,
	RegPCoefficient, RegDCoefficient, RegICoefficient,
	RegCWDeadZone, RegCCWDeadZone, RegProtectionCurrent, RegOffset, RegMode,
	RegTorqueEnable, RegAcceleration, RegGoalPosition, RegGoalTime, RegGoalSpeed,
	RegLock, RegPresentPosition, RegPresentSpeed, RegPresentLoad,
	RegPresentVoltage, RegPresentTemperature, RegMoving, RegPresentCurrent,
	RegDefaultMovingThreshold, RegDefaultDTS, RegDefaultVK, RegDefaultVMin,
	RegDefaultVMax, RegDefaultAMax, RegDefaultKAcc,
}

// LookupRegister resolves address to its Register definition, returning
// ErrUnknownRegister if address is not in RegisterTable.
func LookupRegister(address byte) (Register, error) {
	for _, r := range RegisterTable {
		if r.Address == address {
			return r, nil
		}
	}
	return Register{}, ErrUnknownRegister
}

// ModelName translates a raw model-number register value into its
// human-readable name. Unrecognised numbers are reported as "unknown".
func ModelName(modelNumber uint16) string {
	switch modelNumber {
	case 777:
		return "STS3215"
	case 2825:
		return "STS3250"
	default:
		return "unknown"
	}
}

// EncodeRegisterValue splits value into its wire bytes for reg,
// respecting end. Single-byte registers return a 1-byte slice.
func (h *Handler) EncodeRegisterValue(reg Register, value int64) []byte {
	if reg.Size == 1 {
		return []byte{byte(value)}
	}
	return []byte{h.LoByte(uint16(value)), h.HiByte(uint16(value))}
}

// DecodeRegisterValue reassembles raw wire bytes for reg into a signed
// int64, honouring reg.Type for 2-byte signed registers (sign bit 15).
func (h *Handler) DecodeRegisterValue(reg Register, raw []byte) int64 {
	if reg.Size == 1 {
		return int64(raw[0])
	}
	w := h.MakeWord(raw[0], raw[1])
	if reg.Type == Signed && w&(1<<15) != 0 {
		return -int64(w &^ (1 << 15))
	}
	return int64(w)
}
